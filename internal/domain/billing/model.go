package billing

import (
	"time"

	"github.com/google/uuid"
)

// Invoice statuses.
const (
	StatusPaid = "PAID"
	StatusDue  = "DUE"
	StatusVoid = "VOID"
)

// Invoice maps to the invoice table. Invoices live in the clinic (tenant)
// schema; the (patient_id, payment_method_ref) pair is unique per schema,
// which together with the clinic scoping makes the real-world dedup key
// (patient, clinic, payment method reference).
//
// All monetary amounts are integer cents.
type Invoice struct {
	ID               uuid.UUID              `db:"id" json:"id"`
	ReferenceNumber  string                 `db:"reference_number" json:"reference_number"`
	PatientID        uuid.UUID              `db:"patient_id" json:"patient_id"`
	Status           string                 `db:"status" json:"status"`
	AmountCents      int64                  `db:"amount_cents" json:"amount_cents"`
	AmountPaidCents  int64                  `db:"amount_paid_cents" json:"amount_paid_cents"`
	AmountDueCents   int64                  `db:"amount_due_cents" json:"amount_due_cents"`
	PaymentMethodRef *string                `db:"payment_method_ref" json:"payment_method_ref,omitempty"`
	PaidAt           *time.Time             `db:"paid_at" json:"paid_at,omitempty"`
	Metadata         map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time              `db:"updated_at" json:"updated_at"`
}

// LineItem maps to the invoice_line_item table.
type LineItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Sequence    int       `db:"sequence" json:"sequence"`
	Description string    `db:"description" json:"description"`
	AmountCents int64     `db:"amount_cents" json:"amount_cents"`
	Quantity    int       `db:"quantity" json:"quantity"`
}
