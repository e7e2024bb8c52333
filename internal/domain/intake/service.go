package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Record(ctx context.Context, sub *Submission) error {
	if sub.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	return s.repo.Create(ctx, sub)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) LatestForPatient(ctx context.Context, patientID uuid.UUID) (*Submission, error) {
	return s.repo.LatestByPatient(ctx, patientID)
}
