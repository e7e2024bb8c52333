package webhook

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/domain/patient"
)

// mockPatientRepo is an in-memory patient.Repository for resolver tests.
type mockPatientRepo struct {
	patients  map[uuid.UUID]*patient.Patient
	failWith  error
	createErr error
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*patient.Patient)}
}

func (m *mockPatientRepo) add(p *patient.Patient) *patient.Patient {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.patients[p.ID] = p
	return p
}

func (m *mockPatientRepo) Create(ctx context.Context, p *patient.Patient) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.add(p)
	return nil
}

func (m *mockPatientRepo) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) Update(ctx context.Context, p *patient.Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) List(ctx context.Context, limit, offset int) ([]*patient.Patient, int, error) {
	var all []*patient.Patient
	for _, p := range m.patients {
		all = append(all, p)
	}
	return all, len(all), nil
}

func (m *mockPatientRepo) ListByTag(ctx context.Context, tag string, limit, offset int) ([]*patient.Patient, int, error) {
	var out []*patient.Patient
	for _, p := range m.patients {
		if p.HasTag(tag) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *mockPatientRepo) FindActiveByEmail(ctx context.Context, email string) ([]*patient.Patient, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []*patient.Patient
	for _, p := range m.patients {
		if p.Active && p.Email != nil && strings.EqualFold(*p.Email, email) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPatientRepo) FindByName(ctx context.Context, firstName, lastName string) ([]*patient.Patient, error) {
	var out []*patient.Patient
	for _, p := range m.patients {
		if p.Active && strings.EqualFold(p.FirstName, firstName) && strings.EqualFold(p.LastName, lastName) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPatientRepo) FindBySubmissionID(ctx context.Context, submissionID string) (*patient.Patient, error) {
	for _, p := range m.patients {
		if p.SourceMetadata != nil {
			if sid, ok := p.SourceMetadata["submission_id"].(string); ok && sid == submissionID {
				return p, nil
			}
		}
	}
	return nil, patient.ErrNotFound
}

func newTestResolver(repo *mockPatientRepo, nameMatch bool) *PatientResolver {
	return NewPatientResolver(patient.NewService(repo), nameMatch, zerolog.Nop())
}

func TestResolve_IdentityShortCircuits(t *testing.T) {
	repo := newMockPatientRepo()
	email := "pat@example.com"
	known := repo.add(&patient.Patient{FirstName: "Pat", LastName: "Doe", Active: true, Email: &email})
	// A same-named second patient would trip the name strategy if reached.
	repo.add(&patient.Patient{FirstName: "Pat", LastName: "Doe", Active: true})

	r := newTestResolver(repo, true)
	res, err := r.Resolve(context.Background(), &NormalizedEvent{
		CustomerEmail: "PAT@example.com",
		PayerName:     "Pat Doe",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != StrategyIdentity {
		t.Errorf("expected identity strategy, got %s", res.Strategy)
	}
	if res.Patient.ID != known.ID {
		t.Error("expected the email-matched patient")
	}
	if res.Created {
		t.Error("identity resolution must not create a patient")
	}
}

func TestResolve_IdentityPicksMostRecentOnDuplicates(t *testing.T) {
	repo := newMockPatientRepo()
	email := "dup@example.com"
	repo.add(&patient.Patient{FirstName: "Old", LastName: "Record", Active: true, Email: &email,
		CreatedAt: time.Now().Add(-48 * time.Hour)})
	newer := repo.add(&patient.Patient{FirstName: "New", LastName: "Record", Active: true, Email: &email})

	r := newTestResolver(repo, false)
	res, err := r.Resolve(context.Background(), &NormalizedEvent{CustomerEmail: email})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patient.ID != newer.ID {
		t.Error("expected the most recently created duplicate")
	}
}

func TestResolve_NameMatchExactlyOne(t *testing.T) {
	repo := newMockPatientRepo()
	match := repo.add(&patient.Patient{FirstName: "Alex", LastName: "Van Der Berg", Active: true})

	r := newTestResolver(repo, true)
	res, err := r.Resolve(context.Background(), &NormalizedEvent{
		CustomerEmail: "unknown@example.com",
		PayerName:     "Alex Van Der Berg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != StrategyName {
		t.Errorf("expected name strategy, got %s", res.Strategy)
	}
	if res.Patient.ID != match.ID {
		t.Error("expected the name-matched patient")
	}
}

func TestResolve_AmbiguousNameFallsThrough(t *testing.T) {
	repo := newMockPatientRepo()
	repo.add(&patient.Patient{FirstName: "Sam", LastName: "Lee", Active: true})
	repo.add(&patient.Patient{FirstName: "Sam", LastName: "Lee", Active: true})
	wanted := repo.add(&patient.Patient{FirstName: "Sam", LastName: "Other", Active: true,
		SourceMetadata: map[string]interface{}{"submission_id": "sub-9"}})

	r := newTestResolver(repo, true)
	res, err := r.Resolve(context.Background(), &NormalizedEvent{
		CustomerEmail: "unknown@example.com",
		PayerName:     "Sam Lee",
		SubmissionID:  "sub-9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != StrategySubmission {
		t.Errorf("expected fall-through to submission strategy, got %s", res.Strategy)
	}
	if res.Patient.ID != wanted.ID {
		t.Error("expected the submission-matched patient")
	}
}

func TestResolve_NameMatchDisabled(t *testing.T) {
	repo := newMockPatientRepo()
	repo.add(&patient.Patient{FirstName: "Jo", LastName: "Smith", Active: true})

	r := newTestResolver(repo, false)
	res, err := r.Resolve(context.Background(), &NormalizedEvent{
		CustomerEmail: "unknown@example.com",
		PayerName:     "Jo Smith",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != StrategyStub {
		t.Errorf("expected stub with name matching disabled, got %s", res.Strategy)
	}
}

func TestResolve_StubCreation(t *testing.T) {
	repo := newMockPatientRepo()
	r := newTestResolver(repo, true)

	raw := map[string]interface{}{"customer_email": "new@example.com"}
	res, err := r.Resolve(context.Background(), &NormalizedEvent{
		CustomerEmail: "new@example.com",
		PayerName:     "Riley Quinn",
		SubmissionID:  "sub-77",
		Address:       Address{Line1: "9 Elm St", City: "Austin", State: "TX", PostalCode: "78701"},
		Raw:           raw,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != StrategyStub || !res.Created {
		t.Fatalf("expected created stub, got %s created=%v", res.Strategy, res.Created)
	}

	p := res.Patient
	if p.FirstName != "Riley" || p.LastName != "Quinn" {
		t.Errorf("unexpected name %q %q", p.FirstName, p.LastName)
	}
	if !p.HasTag(patient.TagStubFromInvoice) || !p.HasTag(patient.TagNeedsIntake) {
		t.Errorf("stub missing reconciliation tags: %v", p.Tags)
	}
	if p.SourceMetadata["submission_id"] != "sub-77" {
		t.Error("expected submission id in source metadata")
	}
	if p.SourceMetadata["original_event"] == nil {
		t.Error("expected original event preserved in source metadata")
	}
	if p.City == nil || *p.City != "Austin" {
		t.Error("expected address copied onto stub")
	}
	if p.MRN == "" {
		t.Error("expected MRN assigned")
	}
}

func TestResolve_StubWithNoPayerName(t *testing.T) {
	repo := newMockPatientRepo()
	r := newTestResolver(repo, true)

	res, err := r.Resolve(context.Background(), &NormalizedEvent{CustomerEmail: "anon@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patient.FirstName != "Unknown" || res.Patient.LastName != "Patient" {
		t.Errorf("expected placeholder name, got %q %q", res.Patient.FirstName, res.Patient.LastName)
	}
}

func TestResolve_SearchFailureIsPersistenceError(t *testing.T) {
	repo := newMockPatientRepo()
	repo.failWith = errors.New("connection refused")

	r := newTestResolver(repo, false)
	_, err := r.Resolve(context.Background(), &NormalizedEvent{CustomerEmail: "x@example.com"})

	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestResolve_StubCreateFailureIsPersistenceError(t *testing.T) {
	repo := newMockPatientRepo()
	repo.createErr = errors.New("disk full")

	r := newTestResolver(repo, false)
	_, err := r.Resolve(context.Background(), &NormalizedEvent{
		CustomerEmail: "x@example.com",
		PayerName:     "Some One",
	})

	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestBackfillAddress(t *testing.T) {
	repo := newMockPatientRepo()
	email := "pat@example.com"
	known := repo.add(&patient.Patient{FirstName: "Pat", LastName: "Doe", Active: true, Email: &email})

	r := newTestResolver(repo, false)
	r.BackfillAddress(context.Background(), known, Address{
		Line1:      "123 Main St",
		City:       "Springfield",
		State:      "IL",
		PostalCode: "62704",
	})

	stored, _ := repo.GetByID(context.Background(), known.ID)
	if stored.AddressLine1 == nil || *stored.AddressLine1 != "123 Main St" {
		t.Error("expected address backfilled onto patient")
	}
}

func TestBackfillAddress_DoesNotOverwrite(t *testing.T) {
	repo := newMockPatientRepo()
	existing := "9 Elm St"
	known := repo.add(&patient.Patient{FirstName: "Pat", LastName: "Doe", Active: true, AddressLine1: &existing})

	r := newTestResolver(repo, false)
	r.BackfillAddress(context.Background(), known, Address{Line1: "123 Main St", City: "Springfield"})

	stored, _ := repo.GetByID(context.Background(), known.ID)
	if *stored.AddressLine1 != "9 Elm St" {
		t.Error("an address on file must not be overwritten")
	}
}
