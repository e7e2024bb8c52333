package patient

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

type mockRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) Update(ctx context.Context, p *Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByTag(ctx context.Context, tag string, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		if p.HasTag(tag) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) FindActiveByEmail(ctx context.Context, email string) ([]*Patient, error) {
	var out []*Patient
	for _, p := range m.patients {
		if p.Active && p.Email != nil && strings.EqualFold(*p.Email, email) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepo) FindByName(ctx context.Context, firstName, lastName string) ([]*Patient, error) {
	var out []*Patient
	for _, p := range m.patients {
		if p.Active && strings.EqualFold(p.FirstName, firstName) && strings.EqualFold(p.LastName, lastName) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepo) FindBySubmissionID(ctx context.Context, submissionID string) (*Patient, error) {
	for _, p := range m.patients {
		if p.SourceMetadata != nil {
			if sid, ok := p.SourceMetadata["submission_id"].(string); ok && sid == submissionID {
				return p, nil
			}
		}
	}
	return nil, ErrNotFound
}

func TestCreate_AssignsMRNAndActivates(t *testing.T) {
	svc := NewService(newMockRepo())
	p := &Patient{FirstName: "Pat", LastName: "Doe"}

	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Active {
		t.Error("expected patient activated")
	}
	if !strings.HasPrefix(p.MRN, "P-") || len(p.MRN) != 10 {
		t.Errorf("unexpected MRN %q", p.MRN)
	}
}

func TestCreate_KeepsProvidedMRN(t *testing.T) {
	svc := NewService(newMockRepo())
	p := &Patient{FirstName: "Pat", LastName: "Doe", MRN: "P-EXISTING"}

	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MRN != "P-EXISTING" {
		t.Errorf("expected MRN preserved, got %q", p.MRN)
	}
}

func TestCreate_RequiresName(t *testing.T) {
	svc := NewService(newMockRepo())
	if err := svc.Create(context.Background(), &Patient{}); err == nil {
		t.Error("expected error for nameless patient")
	}
}

func TestListStubs(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	stub := &Patient{FirstName: "Unknown", LastName: "Patient", Tags: []string{TagStubFromInvoice, TagNeedsIntake}}
	if err := svc.Create(ctx, stub); err != nil {
		t.Fatal(err)
	}
	if err := svc.Create(ctx, &Patient{FirstName: "Real", LastName: "Patient"}); err != nil {
		t.Fatal(err)
	}

	stubs, total, err := svc.ListStubs(ctx, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(stubs) != 1 || stubs[0].ID != stub.ID {
		t.Errorf("expected only the stub, got %d", total)
	}
}

func TestSplitPayerName(t *testing.T) {
	cases := []struct {
		in          string
		first, last string
	}{
		{"Pat Doe", "Pat", "Doe"},
		{"Alex Van Der Berg", "Alex", "Van Der Berg"},
		{"  Cher  ", "Cher", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		first, last := SplitPayerName(tc.in)
		if first != tc.first || last != tc.last {
			t.Errorf("SplitPayerName(%q) = %q, %q; want %q, %q", tc.in, first, last, tc.first, tc.last)
		}
	}
}

func TestHasTagAndIsStub(t *testing.T) {
	p := &Patient{Tags: []string{TagStubFromInvoice}}
	if !p.HasTag(TagStubFromInvoice) {
		t.Error("expected tag present")
	}
	if p.HasTag(TagNeedsIntake) {
		t.Error("unexpected tag")
	}
	if !p.IsStub() {
		t.Error("expected stub")
	}
}

func TestFullName(t *testing.T) {
	p := &Patient{FirstName: "Pat", LastName: "Doe"}
	if got := p.FullName(); got != "Pat Doe" {
		t.Errorf("expected %q, got %q", "Pat Doe", got)
	}
}
