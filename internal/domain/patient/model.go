package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tags applied to patients auto-created by the invoice webhook pipeline.
// Stub patients are minimally populated and flagged for later reconciliation
// with a real intake record by the clinic ops team.
const (
	TagStubFromInvoice = "stub-from-invoice"
	TagNeedsIntake     = "needs-intake-merge"
)

// Patient maps to the patient table. Patients live in the clinic (tenant)
// schema, so every row is clinic-scoped by construction. Email and phone are
// PHI and encrypted at rest when an encryptor is configured.
type Patient struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	MRN            string                 `db:"mrn" json:"mrn"`
	Active         bool                   `db:"active" json:"active"`
	FirstName      string                 `db:"first_name" json:"first_name"`
	LastName       string                 `db:"last_name" json:"last_name"`
	BirthDate      *time.Time             `db:"birth_date" json:"birth_date,omitempty"`
	Email          *string                `db:"email" json:"email,omitempty"`
	PhoneMobile    *string                `db:"phone_mobile" json:"phone_mobile,omitempty"`
	AddressLine1   *string                `db:"address_line1" json:"address_line1,omitempty"`
	AddressLine2   *string                `db:"address_line2" json:"address_line2,omitempty"`
	City           *string                `db:"city" json:"city,omitempty"`
	State          *string                `db:"state" json:"state,omitempty"`
	PostalCode     *string                `db:"postal_code" json:"postal_code,omitempty"`
	Tags           []string               `db:"tags" json:"tags,omitempty"`
	SourceMetadata map[string]interface{} `db:"source_metadata" json:"source_metadata,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}

// HasTag reports whether the patient carries the given tag.
func (p *Patient) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsStub reports whether this patient was auto-created from a payment event
// and still awaits intake reconciliation.
func (p *Patient) IsStub() bool {
	return p.HasTag(TagStubFromInvoice)
}

// FullName returns "First Last" with empty parts dropped.
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
