package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	invoices Repository
}

func NewService(invoices Repository) *Service {
	return &Service{invoices: invoices}
}

// CreatePaid records a paid invoice for the patient, deduplicating on the
// external payment method reference. If an invoice for the same reference
// already exists, the existing invoice is returned with duplicate=true and
// nothing is written. A concurrent insert losing the uniqueness race is
// resolved the same way.
func (s *Service) CreatePaid(ctx context.Context, inv *Invoice, items []*LineItem) (result *Invoice, duplicate bool, err error) {
	if inv.PatientID == uuid.Nil {
		return nil, false, fmt.Errorf("patient_id is required")
	}

	if inv.PaymentMethodRef != nil && *inv.PaymentMethodRef != "" {
		existing, err := s.invoices.FindByPaymentMethodRef(ctx, inv.PatientID, *inv.PaymentMethodRef)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	inv.Status = StatusPaid
	inv.AmountPaidCents = inv.AmountCents
	inv.AmountDueCents = 0
	if inv.PaidAt == nil {
		now := time.Now()
		inv.PaidAt = &now
	}
	if inv.ReferenceNumber == "" {
		// Reference numbers follow the creation month: the sequence counts
		// rows by created_at, so a backdated paid date must not relabel it.
		ref, err := s.NextReferenceNumber(ctx, time.Now())
		if err != nil {
			return nil, false, err
		}
		inv.ReferenceNumber = ref
	}

	if err := s.invoices.Create(ctx, inv); err != nil {
		if errors.Is(err, ErrDuplicate) && inv.PaymentMethodRef != nil {
			existing, ferr := s.invoices.FindByPaymentMethodRef(ctx, inv.PatientID, *inv.PaymentMethodRef)
			if ferr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	for i, li := range items {
		li.InvoiceID = inv.ID
		li.Sequence = i + 1
		if li.Quantity == 0 {
			li.Quantity = 1
		}
		if err := s.invoices.AddLineItem(ctx, li); err != nil {
			return nil, false, err
		}
	}

	return inv, false, nil
}

// NextReferenceNumber produces a clinic-month sequence like INV-202608-0042,
// derived from a count of the clinic's invoices created since the first of
// the month. Best-effort uniqueness: the reference number is cosmetic, the
// payment method reference is the dedup key.
func (s *Service) NextReferenceNumber(ctx context.Context, at time.Time) (string, error) {
	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
	count, err := s.invoices.CountCreatedSince(ctx, monthStart)
	if err != nil {
		return "", fmt.Errorf("count invoices for reference number: %w", err)
	}
	return fmt.Sprintf("INV-%s-%04d", at.Format("200601"), count+1), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	return s.invoices.GetLineItems(ctx, invoiceID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, limit, offset)
}
