package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RefillRequest asks the refill scheduler to line up future shipments for a
// paid multi-month plan.
type RefillRequest struct {
	PatientID  uuid.UUID `json:"patient_id"`
	InvoiceID  uuid.UUID `json:"invoice_id"`
	Treatment  string    `json:"treatment"`
	PlanMonths int       `json:"plan_months"`
	PaidAt     time.Time `json:"paid_at"`
}

// RefillScheduler schedules follow-up fulfillment after a successful payment.
type RefillScheduler interface {
	Schedule(ctx context.Context, req RefillRequest) error
}

// NoteAssurance checks that a clinical note exists for the patient's
// purchase and opens a task when one does not.
type NoteAssurance interface {
	EnsureNote(ctx context.Context, patientID uuid.UUID, invoiceID uuid.UUID, treatment string) error
}

const downstreamTimeout = 5 * time.Second

type httpRefillScheduler struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRefillScheduler(baseURL string) RefillScheduler {
	return &httpRefillScheduler{
		baseURL: baseURL,
		client:  &http.Client{Timeout: downstreamTimeout},
	}
}

func (s *httpRefillScheduler) Schedule(ctx context.Context, req RefillRequest) error {
	return postJSON(ctx, s.client, s.baseURL+"/refills/schedule", req)
}

type httpNoteAssurance struct {
	baseURL string
	client  *http.Client
}

func NewHTTPNoteAssurance(baseURL string) NoteAssurance {
	return &httpNoteAssurance{
		baseURL: baseURL,
		client:  &http.Client{Timeout: downstreamTimeout},
	}
}

func (s *httpNoteAssurance) EnsureNote(ctx context.Context, patientID, invoiceID uuid.UUID, treatment string) error {
	body := map[string]string{
		"patient_id": patientID.String(),
		"invoice_id": invoiceID.String(),
		"treatment":  treatment,
	}
	return postJSON(ctx, s.client, s.baseURL+"/notes/ensure", body)
}

func postJSON(ctx context.Context, client *http.Client, url string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("downstream %s returned %d", url, resp.StatusCode)
	}
	return nil
}

// Downstream fans out post-commit side effects. Every call is best effort:
// the invoice is already committed, so failures are logged and swallowed so
// the sender still receives a success and does not re-deliver.
type Downstream struct {
	refills RefillScheduler
	notes   NoteAssurance
	logger  zerolog.Logger
}

func NewDownstream(refills RefillScheduler, notes NoteAssurance, logger zerolog.Logger) *Downstream {
	return &Downstream{refills: refills, notes: notes, logger: logger}
}

func (d *Downstream) ScheduleRefills(ctx context.Context, req RefillRequest) {
	if d.refills == nil {
		return
	}
	if err := d.refills.Schedule(ctx, req); err != nil {
		d.logger.Warn().Err(err).
			Str("patient_id", req.PatientID.String()).
			Str("invoice_id", req.InvoiceID.String()).
			Msg("refill scheduling failed; continuing")
		return
	}
	d.logger.Info().Str("patient_id", req.PatientID.String()).
		Int("plan_months", req.PlanMonths).Msg("refills scheduled")
}

func (d *Downstream) EnsureNote(ctx context.Context, patientID, invoiceID uuid.UUID, treatment string) {
	if d.notes == nil {
		return
	}
	if err := d.notes.EnsureNote(ctx, patientID, invoiceID, treatment); err != nil {
		d.logger.Warn().Err(err).
			Str("patient_id", patientID.String()).
			Str("invoice_id", invoiceID.String()).
			Msg("note assurance failed; continuing")
		return
	}
	d.logger.Info().Str("patient_id", patientID.String()).Msg("clinical note ensured")
}
