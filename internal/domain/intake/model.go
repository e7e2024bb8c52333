package intake

import (
	"time"

	"github.com/google/uuid"
)

// Submission maps to the intake_submission table: one clinical intake form
// submitted by (or for) a patient, with the raw question/answer document
// preserved as JSONB. The external submission id correlates the form with
// events from the intake partner.
type Submission struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	PatientID    uuid.UUID              `db:"patient_id" json:"patient_id"`
	ExternalID   *string                `db:"external_id" json:"external_id,omitempty"`
	FormType     *string                `db:"form_type" json:"form_type,omitempty"`
	Answers      map[string]interface{} `db:"answers" json:"answers,omitempty"`
	SubmittedAt  time.Time              `db:"submitted_at" json:"submitted_at"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}
