package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no invoice matches a lookup.
	ErrNotFound = errors.New("invoice not found")
	// ErrDuplicate is returned when an insert collides with the
	// (patient_id, payment_method_ref) uniqueness constraint.
	ErrDuplicate = errors.New("invoice already exists for payment method reference")
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	List(ctx context.Context, limit, offset int) ([]*Invoice, int, error)

	// FindByPaymentMethodRef returns the invoice recorded for the given
	// patient and external payment method reference, or ErrNotFound.
	FindByPaymentMethodRef(ctx context.Context, patientID uuid.UUID, ref string) (*Invoice, error)

	// CountCreatedSince counts invoices created at or after the given time.
	// Used for clinic-month reference number sequences.
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)

	AddLineItem(ctx context.Context, li *LineItem) error
	GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error)
}
