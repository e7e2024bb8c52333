package webhook

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/domain/patient"
)

// Strategy identifies which resolution path selected (or created) a patient.
type Strategy string

const (
	StrategyIdentity   Strategy = "identity"
	StrategyName       Strategy = "name"
	StrategySubmission Strategy = "submission"
	StrategyStub       Strategy = "stub"
)

// Resolution is the tagged outcome of patient resolution. Exactly one
// strategy produces it; the short-circuit order is fixed.
type Resolution struct {
	Strategy Strategy
	Patient  *patient.Patient
	Created  bool
}

// PatientResolver resolves an inbound payment event to exactly one patient.
//
// Patient identity is defined by intake, not by the payer on a transaction
// (a family member may pay), so payer name is only a correlation signal, used
// when unambiguous. The stub fallback guarantees no event is ever lost for
// lack of a match.
type PatientResolver struct {
	patients  *patient.Service
	logger    zerolog.Logger
	nameMatch bool
}

func NewPatientResolver(patients *patient.Service, nameMatch bool, logger zerolog.Logger) *PatientResolver {
	return &PatientResolver{patients: patients, nameMatch: nameMatch, logger: logger}
}

// Resolve runs the three ordered strategies and falls back to stub creation.
// Storage failures surface as *PersistenceError so the pipeline can route
// them to the dead-letter queue.
func (r *PatientResolver) Resolve(ctx context.Context, ev *NormalizedEvent) (*Resolution, error) {
	if res, err := r.byIdentity(ctx, ev); err != nil || res != nil {
		return res, err
	}
	if res, err := r.byName(ctx, ev); err != nil || res != nil {
		return res, err
	}
	if res, err := r.bySubmission(ctx, ev); err != nil || res != nil {
		return res, err
	}
	return r.createStub(ctx, ev)
}

func (r *PatientResolver) byIdentity(ctx context.Context, ev *NormalizedEvent) (*Resolution, error) {
	matches, err := r.patients.FindActiveByEmail(ctx, ev.CustomerEmail)
	if err != nil {
		return nil, &PersistenceError{Op: "patient email search", Err: err}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &Resolution{Strategy: StrategyIdentity, Patient: matches[0]}, nil
	default:
		// Duplicate active records for one email; take the most recent
		// rather than guessing between them and the payer's name.
		r.logger.Warn().Str("email", ev.CustomerEmail).Int("matches", len(matches)).
			Msg("multiple active patients share event email; selecting most recent")
		latest := matches[0]
		for _, m := range matches[1:] {
			if m.CreatedAt.After(latest.CreatedAt) {
				latest = m
			}
		}
		return &Resolution{Strategy: StrategyIdentity, Patient: latest}, nil
	}
}

func (r *PatientResolver) byName(ctx context.Context, ev *NormalizedEvent) (*Resolution, error) {
	if !r.nameMatch || ev.PayerName == "" {
		return nil, nil
	}
	first, last := patient.SplitPayerName(ev.PayerName)
	if first == "" || last == "" {
		return nil, nil
	}
	matches, err := r.patients.FindByName(ctx, first, last)
	if err != nil {
		return nil, &PersistenceError{Op: "patient name search", Err: err}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &Resolution{Strategy: StrategyName, Patient: matches[0]}, nil
	default:
		// Ambiguity is not guessed away; fall through to the next strategy.
		r.logger.Info().Str("payer_name", ev.PayerName).Int("matches", len(matches)).
			Msg("ambiguous name match; skipping name strategy")
		return nil, nil
	}
}

func (r *PatientResolver) bySubmission(ctx context.Context, ev *NormalizedEvent) (*Resolution, error) {
	if ev.SubmissionID == "" {
		return nil, nil
	}
	p, err := r.patients.FindBySubmissionID(ctx, ev.SubmissionID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "patient submission lookup", Err: err}
	}
	return &Resolution{Strategy: StrategySubmission, Patient: p}, nil
}

// BackfillAddress copies the event's billing address onto a matched patient
// that has none on file. Best effort: a failed update is logged and the
// pipeline continues, the invoice carries its own address snapshot either way.
func (r *PatientResolver) BackfillAddress(ctx context.Context, p *patient.Patient, addr Address) {
	if addr.IsZero() || p.AddressLine1 != nil {
		return
	}
	p.AddressLine1 = optional(addr.Line1)
	p.AddressLine2 = optional(addr.Line2)
	p.City = optional(addr.City)
	p.State = optional(addr.State)
	p.PostalCode = optional(addr.PostalCode)
	if err := r.patients.Update(ctx, p); err != nil {
		r.logger.Warn().Err(err).Str("patient_id", p.ID.String()).
			Msg("address backfill failed; continuing")
		return
	}
	r.logger.Info().Str("patient_id", p.ID.String()).Msg("backfilled patient address from payment event")
}

// createStub creates a minimally-populated patient from whatever identity
// fields the event carries, tagged for later intake reconciliation. The full
// original event is preserved in the patient's source metadata.
func (r *PatientResolver) createStub(ctx context.Context, ev *NormalizedEvent) (*Resolution, error) {
	first, last := patient.SplitPayerName(ev.PayerName)
	if first == "" {
		first = "Unknown"
	}
	if last == "" {
		last = "Patient"
	}

	metadata := map[string]interface{}{
		"source":         "invoice-webhook",
		"original_event": ev.Raw,
	}
	if ev.SubmissionID != "" {
		metadata["submission_id"] = ev.SubmissionID
	}

	email := ev.CustomerEmail
	p := &patient.Patient{
		FirstName:      first,
		LastName:       last,
		Email:          &email,
		Tags:           []string{patient.TagStubFromInvoice, patient.TagNeedsIntake},
		SourceMetadata: metadata,
	}
	if !ev.Address.IsZero() {
		p.AddressLine1 = optional(ev.Address.Line1)
		p.AddressLine2 = optional(ev.Address.Line2)
		p.City = optional(ev.Address.City)
		p.State = optional(ev.Address.State)
		p.PostalCode = optional(ev.Address.PostalCode)
	}

	if err := r.patients.Create(ctx, p); err != nil {
		return nil, &PersistenceError{Op: "stub patient creation", Err: err}
	}

	r.logger.Info().Str("patient_id", p.ID.String()).Str("email", email).
		Msg("created stub patient from invoice event")
	return &Resolution{Strategy: StrategyStub, Patient: p, Created: true}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
