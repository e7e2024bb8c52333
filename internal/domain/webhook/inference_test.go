package webhook

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/domain/intake"
)

type mockIntakeRepo struct {
	byPatient map[uuid.UUID]*intake.Submission
}

func newMockIntakeRepo() *mockIntakeRepo {
	return &mockIntakeRepo{byPatient: make(map[uuid.UUID]*intake.Submission)}
}

func (m *mockIntakeRepo) Create(ctx context.Context, s *intake.Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.byPatient[s.PatientID] = s
	return nil
}

func (m *mockIntakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*intake.Submission, error) {
	for _, s := range m.byPatient {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, intake.ErrNotFound
}

func (m *mockIntakeRepo) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*intake.Submission, error) {
	s, ok := m.byPatient[patientID]
	if !ok {
		return nil, intake.ErrNotFound
	}
	return s, nil
}

func TestDetectTreatment(t *testing.T) {
	cases := map[string]string{
		"Semaglutide 3 Month":   TreatmentSemaglutide,
		"ozempic refill":        TreatmentSemaglutide,
		"Wegovy starter":        TreatmentSemaglutide,
		"Tirzepatide Monthly":   TreatmentTirzepatide,
		"Mounjaro 6-month plan": TreatmentTirzepatide,
		"ZEPBOUND":              TreatmentTirzepatide,
		"Sermorelin nightly":    TreatmentSermorelin,
		"Weight Loss Program":   "",
	}
	for in, want := range cases {
		if got := DetectTreatment(in); got != want {
			t.Errorf("DetectTreatment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInfer_FromIntakeKnownKey(t *testing.T) {
	repo := newMockIntakeRepo()
	pid := uuid.New()
	repo.Create(context.Background(), &intake.Submission{
		PatientID: pid,
		Answers:   map[string]interface{}{"medication_preference": "Tirzepatide (Mounjaro)"},
	})

	inf := NewTreatmentInferrer(repo, zerolog.Nop())
	got := inf.Infer(context.Background(), pid, &NormalizedEvent{Plan: "Monthly Plan"})
	if got != TreatmentTirzepatide {
		t.Errorf("expected tirzepatide from intake answer, got %q", got)
	}
}

func TestInfer_FromIntakeFreeText(t *testing.T) {
	repo := newMockIntakeRepo()
	pid := uuid.New()
	repo.Create(context.Background(), &intake.Submission{
		PatientID: pid,
		Answers: map[string]interface{}{
			"anything_else": "I was previously on ozempic and want to continue",
		},
	})

	inf := NewTreatmentInferrer(repo, zerolog.Nop())
	got := inf.Infer(context.Background(), pid, &NormalizedEvent{})
	if got != TreatmentSemaglutide {
		t.Errorf("expected semaglutide from free text scan, got %q", got)
	}
}

func TestInfer_IntakeWinsOverPrice(t *testing.T) {
	repo := newMockIntakeRepo()
	pid := uuid.New()
	repo.Create(context.Background(), &intake.Submission{
		PatientID: pid,
		Answers:   map[string]interface{}{"medication": "semaglutide"},
	})

	inf := NewTreatmentInferrer(repo, zerolog.Nop())
	// Price alone would read as tirzepatide for a 1-month plan.
	got := inf.Infer(context.Background(), pid, &NormalizedEvent{
		Plan:        "1 Month Plan",
		AmountCents: 54900,
	})
	if got != TreatmentSemaglutide {
		t.Errorf("expected intake document to win, got %q", got)
	}
}

func TestInfer_DurationPriceTable(t *testing.T) {
	inf := NewTreatmentInferrer(newMockIntakeRepo(), zerolog.Nop())
	pid := uuid.New()

	cases := []struct {
		plan  string
		cents int64
		want  string
	}{
		{"1 Month Plan", 29700, TreatmentSemaglutide},
		{"1 Month Plan", 54900, TreatmentTirzepatide},
		{"3 Month Plan", 89700, TreatmentSemaglutide},
		{"3 Month Plan", 134700, TreatmentTirzepatide},
		{"6-month supply", 159900, TreatmentSemaglutide},
		{"6-month supply", 249900, TreatmentTirzepatide},
	}
	for _, tc := range cases {
		got := inf.Infer(context.Background(), pid, &NormalizedEvent{Plan: tc.plan, AmountCents: tc.cents})
		if got != tc.want {
			t.Errorf("Infer(plan=%q, cents=%d) = %q, want %q", tc.plan, tc.cents, got, tc.want)
		}
	}
}

func TestInfer_KnownPricePointWithinTolerance(t *testing.T) {
	inf := NewTreatmentInferrer(newMockIntakeRepo(), zerolog.Nop())
	pid := uuid.New()

	// No parsable plan duration; 30000 is within 10% of the 29700 point.
	got := inf.Infer(context.Background(), pid, &NormalizedEvent{Plan: "Starter", AmountCents: 30000})
	if got != TreatmentSemaglutide {
		t.Errorf("expected price point match, got %q", got)
	}
}

func TestInfer_NothingMatches(t *testing.T) {
	inf := NewTreatmentInferrer(newMockIntakeRepo(), zerolog.Nop())
	pid := uuid.New()

	got := inf.Infer(context.Background(), pid, &NormalizedEvent{Plan: "Consultation", AmountCents: 1})
	if got != "" {
		t.Errorf("expected no inference, got %q", got)
	}
}

func TestPlanMonths(t *testing.T) {
	cases := map[string]int{
		"3 Month Plan":   3,
		"6-month supply": 6,
		"1 mo":           1,
		"12 months":      12,
		"Monthly":        0,
		"":               0,
	}
	for in, want := range cases {
		if got := PlanMonths(in); got != want {
			t.Errorf("PlanMonths(%q) = %d, want %d", in, got, want)
		}
	}
}
