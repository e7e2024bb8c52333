package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if p.FirstName == "" && p.LastName == "" {
		return fmt.Errorf("patient name is required")
	}
	if p.MRN == "" {
		p.MRN = generateMRN()
	}
	p.Active = true
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	return s.repo.Update(ctx, p)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// ListStubs lists patients auto-created by the invoice pipeline that still
// await intake reconciliation.
func (s *Service) ListStubs(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.ListByTag(ctx, TagStubFromInvoice, limit, offset)
}

func (s *Service) FindActiveByEmail(ctx context.Context, email string) ([]*Patient, error) {
	return s.repo.FindActiveByEmail(ctx, email)
}

func (s *Service) FindByName(ctx context.Context, firstName, lastName string) ([]*Patient, error) {
	return s.repo.FindByName(ctx, firstName, lastName)
}

func (s *Service) FindBySubmissionID(ctx context.Context, submissionID string) (*Patient, error) {
	return s.repo.FindBySubmissionID(ctx, submissionID)
}

// SplitPayerName splits a free-form payer name into first and last parts.
// Everything after the first word is treated as the last name; a single word
// becomes the first name with an empty last name.
func SplitPayerName(name string) (first, last string) {
	fields := strings.Fields(strings.TrimSpace(name))
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

func generateMRN() string {
	id := uuid.New().String()
	return "P-" + strings.ToUpper(id[:8])
}
