package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no patient matches a lookup.
var ErrNotFound = errors.New("patient not found")

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	ListByTag(ctx context.Context, tag string, limit, offset int) ([]*Patient, int, error)

	// FindActiveByEmail returns all active patients whose contact email,
	// decrypted for comparison, equals the given email case-insensitively.
	FindActiveByEmail(ctx context.Context, email string) ([]*Patient, error)

	// FindByName returns active patients matching first and last name
	// case-insensitively.
	FindByName(ctx context.Context, firstName, lastName string) ([]*Patient, error)

	// FindBySubmissionID returns the patient whose source metadata records
	// the given external intake submission identifier, or ErrNotFound.
	FindBySubmissionID(ctx context.Context, submissionID string) (*Patient, error)
}
