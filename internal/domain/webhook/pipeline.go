package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/domain/billing"
)

// Options tunes pipeline behavior per deployment.
type Options struct {
	EnableNameMatch    bool
	EnableRefills      bool
	EnableNotes        bool
	CentsThreshold     int64
	DefaultAmountCents int64
}

// Result is the pipeline outcome returned to the HTTP layer and cached for
// idempotent replays. ID fields are pointers so absent ones are omitted from
// the JSON body rather than serialized as zero UUIDs.
type Result struct {
	Success         bool       `json:"success"`
	Duplicate       bool       `json:"duplicate,omitempty"`
	Replayed        bool       `json:"replayed,omitempty"`
	Parked          bool       `json:"parked,omitempty"`
	InvoiceID       *uuid.UUID `json:"invoice_id,omitempty"`
	ReferenceNumber string     `json:"reference_number,omitempty"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	PatientCreated  bool       `json:"patient_created,omitempty"`
	Resolution      Strategy   `json:"resolution,omitempty"`
	Treatment       string     `json:"treatment,omitempty"`
	DeadLetterID    *uuid.UUID `json:"dead_letter_id,omitempty"`
}

// eventSchema is the minimum an event must carry to be processable at all.
type eventSchema struct {
	CustomerEmail    string `validate:"required,email"`
	PaymentMethodRef string `validate:"required,startswith=pm_"`
}

// Placeholder values seen when senders export their sheet header row or an
// untemplated form. These are rejected as validation failures, not parked.
var placeholderEmails = map[string]struct{}{
	"email":          {},
	"customer email": {},
	"customer_email": {},
	"test@test.com":  {},
}

// Service runs the full ingestion pipeline for one inbound payment event.
type Service struct {
	auth       *Authenticator
	guard      *IdempotencyGuard
	normalizer *Normalizer
	resolver   *PatientResolver
	inferrer   *TreatmentInferrer
	billing    *billing.Service
	deadLetter *DeadLetterQueue
	downstream *Downstream
	validate   *validator.Validate
	logger     zerolog.Logger
	opts       Options
}

func NewService(
	auth *Authenticator,
	guard *IdempotencyGuard,
	resolver *PatientResolver,
	inferrer *TreatmentInferrer,
	billingSvc *billing.Service,
	deadLetter *DeadLetterQueue,
	downstream *Downstream,
	opts Options,
	logger zerolog.Logger,
) *Service {
	return &Service{
		auth:  auth,
		guard: guard,
		normalizer: &Normalizer{
			CentsThreshold:     opts.CentsThreshold,
			DefaultAmountCents: opts.DefaultAmountCents,
		},
		resolver:   resolver,
		inferrer:   inferrer,
		billing:    billingSvc,
		deadLetter: deadLetter,
		downstream: downstream,
		validate:   validator.New(),
		logger:     logger,
		opts:       opts,
	}
}

// Process ingests one raw event body. Error taxonomy:
//   - ErrConfiguration / ErrAuthentication: reject before reading the body.
//   - *ValidationError: payload unusable, never parked.
//   - *PersistenceError: storage fault; returned only when the dead-letter
//     queue is absent or itself failed, otherwise the event is parked and a
//     Result with Parked set is returned.
//
// Replays (byte-identical bodies and already-recorded payment refs) are
// successes, not errors.
func (s *Service) Process(ctx context.Context, raw []byte, providedSecret string) (*Result, error) {
	if err := s.auth.Verify(providedSecret); err != nil {
		return nil, err
	}
	return s.process(ctx, raw)
}

// Replay pushes a parked event back through the pipeline. Authentication is
// skipped; replay is operator-initiated, not sender-initiated. The entry is
// marked replayed only when processing gets past the fault that parked it.
func (s *Service) Replay(ctx context.Context, id uuid.UUID) (*Result, error) {
	if s.deadLetter == nil {
		return nil, errors.New("dead letter queue is not configured")
	}
	entry, err := s.deadLetter.Entry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Replayed {
		return nil, &ValidationError{Field: "id", Reason: "entry already replayed"}
	}

	raw, err := json.Marshal(entry.Payload)
	if err != nil {
		return nil, err
	}

	result, err := s.process(ctx, raw)
	if err != nil {
		return nil, err
	}
	if result.Parked {
		// Parked again under a fresh entry; leave the original pending too
		// so nothing silently disappears.
		return result, nil
	}

	if err := s.deadLetter.MarkReplayed(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("dead_letter_id", id.String()).
			Msg("event replayed but entry could not be marked; it may be replayed again")
	}
	return result, nil
}

func (s *Service) process(ctx context.Context, raw []byte) (*Result, error) {
	key := IdempotencyKey(raw)
	if rec, hit := s.guard.Check(ctx, key); hit {
		s.logger.Info().Str("idempotency_key", key).Msg("byte-identical replay; returning cached response")
		result := &Result{Success: true}
		// The cached body is the original success response; the wire still
		// has to report the retry as a duplicate.
		if err := json.Unmarshal(rec.Response, result); err != nil {
			result = &Result{Success: true}
		}
		result.Duplicate = true
		result.Replayed = true
		return result, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ValidationError{Field: "body", Reason: "not a JSON object"}
	}

	ev := s.normalizer.Normalize(payload)
	if err := s.validateEvent(ev); err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, ev)
	if err != nil {
		return s.park(ctx, payload, ev, err)
	}
	if !res.Created {
		s.resolver.BackfillAddress(ctx, res.Patient, ev.Address)
	}

	treatment := s.inferrer.Infer(ctx, res.Patient.ID, ev)
	if treatment == "" {
		treatment = DetectTreatment(ev.DeclaredTreatment())
	}

	inv, items := s.buildInvoice(ev, res, treatment)
	created, duplicate, err := s.billing.CreatePaid(ctx, inv, items)
	if err != nil {
		return s.park(ctx, payload, ev, &PersistenceError{Op: "invoice create", Err: err})
	}

	result := &Result{
		Success:         true,
		Duplicate:       duplicate,
		InvoiceID:       &created.ID,
		ReferenceNumber: created.ReferenceNumber,
		PatientID:       &res.Patient.ID,
		PatientCreated:  res.Created,
		Resolution:      res.Strategy,
		Treatment:       treatment,
	}

	if body, err := json.Marshal(result); err == nil {
		s.guard.Record(ctx, key, body)
	}

	if !duplicate {
		s.fanOut(ctx, ev, result, treatment)
	}

	s.logger.Info().
		Str("invoice_id", created.ID.String()).
		Str("reference_number", created.ReferenceNumber).
		Str("patient_id", res.Patient.ID.String()).
		Str("resolution", string(res.Strategy)).
		Bool("duplicate", duplicate).
		Msg("payment event processed")
	return result, nil
}

func (s *Service) validateEvent(ev *NormalizedEvent) error {
	schema := eventSchema{
		CustomerEmail:    ev.CustomerEmail,
		PaymentMethodRef: ev.PaymentMethodRef,
	}
	if err := s.validate.Struct(schema); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			fe := invalid[0]
			return &ValidationError{Field: fieldName(fe.Field()), Reason: "failed " + fe.Tag() + " check"}
		}
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}

	lower := strings.ToLower(strings.TrimSpace(ev.CustomerEmail))
	if _, ok := placeholderEmails[lower]; ok || strings.Contains(lower, "{{") {
		return &ValidationError{Field: "customer_email", Reason: "placeholder value"}
	}
	return nil
}

func fieldName(structField string) string {
	switch structField {
	case "CustomerEmail":
		return "customer_email"
	case "PaymentMethodRef":
		// Report the key the sender actually put on the wire.
		return "method_payment_id"
	default:
		return structField
	}
}

func (s *Service) buildInvoice(ev *NormalizedEvent, res *Resolution, treatment string) (*billing.Invoice, []*billing.LineItem) {
	paidAt := ev.PaymentDate
	meta := map[string]interface{}{
		"source":             "invoice-webhook",
		"payment_method_ref": ev.PaymentMethodRef,
		"resolution":         string(res.Strategy),
		"payment_date":       paidAt.Format(time.RFC3339),
		"summary": map[string]int64{
			"amount_cents":      ev.AmountCents,
			"amount_paid_cents": ev.AmountCents,
			"amount_due_cents":  0,
		},
	}
	if treatment != "" {
		meta["treatment"] = treatment
	}
	if ev.Plan != "" {
		meta["plan"] = ev.Plan
	}
	if months := PlanMonths(ev.Plan); months > 0 {
		meta["plan_months"] = months
	}
	if ev.OrderStatus != "" {
		meta["order_status"] = ev.OrderStatus
	}
	if ev.SubmissionID != "" {
		meta["submission_id"] = ev.SubmissionID
	}
	if ev.AmountDefaulted {
		meta["amount_defaulted"] = true
	}
	if !ev.Address.IsZero() {
		meta["billing_address"] = ev.Address
	}

	description := treatment
	if description == "" {
		description = ev.DeclaredTreatment()
	}
	if description == "" {
		description = "Payment received"
	}

	inv := &billing.Invoice{
		PatientID:        res.Patient.ID,
		AmountCents:      ev.AmountCents,
		PaymentMethodRef: &ev.PaymentMethodRef,
		PaidAt:           &paidAt,
		Metadata:         meta,
	}
	items := []*billing.LineItem{{
		Description: description,
		AmountCents: ev.AmountCents,
		Quantity:    1,
	}}
	return inv, items
}

// park routes a persistence failure to the dead-letter queue. Validation
// and authentication failures never reach here.
func (s *Service) park(ctx context.Context, payload map[string]interface{}, ev *NormalizedEvent, cause error) (*Result, error) {
	if s.deadLetter == nil {
		return nil, cause
	}
	id, ok := s.deadLetter.Park(ctx, payload, ev, cause.Error())
	if !ok {
		return nil, cause
	}
	return &Result{Parked: true, DeadLetterID: &id}, nil
}

func (s *Service) fanOut(ctx context.Context, ev *NormalizedEvent, result *Result, treatment string) {
	if s.downstream == nil {
		return
	}
	if s.opts.EnableRefills {
		months := PlanMonths(ev.Plan)
		if months == 0 {
			months = PlanMonths(ev.Product)
		}
		if months > 1 {
			paidAt := ev.PaymentDate
			if paidAt.IsZero() {
				paidAt = time.Now()
			}
			s.downstream.ScheduleRefills(ctx, RefillRequest{
				PatientID:  *result.PatientID,
				InvoiceID:  *result.InvoiceID,
				Treatment:  treatment,
				PlanMonths: months,
				PaidAt:     paidAt,
			})
		}
	}
	if s.opts.EnableNotes {
		s.downstream.EnsureNote(ctx, *result.PatientID, *result.InvoiceID, treatment)
	}
}
