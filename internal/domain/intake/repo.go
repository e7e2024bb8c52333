package intake

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no submission matches a lookup.
var ErrNotFound = errors.New("intake submission not found")

type Repository interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)

	// LatestByPatient returns the most recently submitted intake form for
	// the patient, or ErrNotFound.
	LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Submission, error)
}
