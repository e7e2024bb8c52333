package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	invoices  map[uuid.UUID]*Invoice
	items     []*LineItem
	createErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{invoices: make(map[uuid.UUID]*Invoice)}
}

func (m *mockRepo) Create(ctx context.Context, inv *Invoice) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.invoices {
		if existing.PatientID == inv.PatientID &&
			existing.PaymentMethodRef != nil && inv.PaymentMethodRef != nil &&
			*existing.PaymentMethodRef == *inv.PaymentMethodRef {
			return ErrDuplicate
		}
	}
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	m.invoices[inv.ID] = inv
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv, nil
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.PatientID == patientID {
			out = append(out, inv)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Invoice, int, error) {
	var out []*Invoice
	for _, inv := range m.invoices {
		out = append(out, inv)
	}
	return out, len(out), nil
}

func (m *mockRepo) FindByPaymentMethodRef(ctx context.Context, patientID uuid.UUID, ref string) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.PatientID == patientID && inv.PaymentMethodRef != nil && *inv.PaymentMethodRef == ref {
			return inv, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	count := 0
	for _, inv := range m.invoices {
		if !inv.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) AddLineItem(ctx context.Context, li *LineItem) error {
	li.ID = uuid.New()
	m.items = append(m.items, li)
	return nil
}

func (m *mockRepo) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	var out []*LineItem
	for _, li := range m.items {
		if li.InvoiceID == invoiceID {
			out = append(out, li)
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestCreatePaid_SetsPaidFields(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	inv := &Invoice{
		PatientID:        uuid.New(),
		AmountCents:      49900,
		PaymentMethodRef: strPtr("pm_1"),
	}
	created, duplicate, err := svc.CreatePaid(context.Background(), inv, []*LineItem{
		{Description: "Tirzepatide", AmountCents: 49900},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if duplicate {
		t.Fatal("first create must not be a duplicate")
	}
	if created.Status != StatusPaid {
		t.Errorf("expected PAID, got %s", created.Status)
	}
	if created.AmountPaidCents != 49900 || created.AmountDueCents != 0 {
		t.Errorf("unexpected paid/due %d/%d", created.AmountPaidCents, created.AmountDueCents)
	}
	if created.PaidAt == nil {
		t.Error("expected paid_at defaulted")
	}
	if created.ReferenceNumber == "" {
		t.Error("expected reference number generated")
	}

	items, _ := repo.GetLineItems(context.Background(), created.ID)
	if len(items) != 1 || items[0].Sequence != 1 || items[0].Quantity != 1 {
		t.Errorf("unexpected line items %+v", items)
	}
}

func TestCreatePaid_DuplicatePaymentRefReturnsExisting(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	pid := uuid.New()

	first, _, err := svc.CreatePaid(context.Background(), &Invoice{
		PatientID:        pid,
		AmountCents:      29700,
		PaymentMethodRef: strPtr("pm_dup"),
	}, nil)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	second, duplicate, err := svc.CreatePaid(context.Background(), &Invoice{
		PatientID:        pid,
		AmountCents:      29700,
		PaymentMethodRef: strPtr("pm_dup"),
	}, nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !duplicate {
		t.Fatal("expected duplicate")
	}
	if second.ID != first.ID {
		t.Error("expected the original invoice returned")
	}
	if len(repo.invoices) != 1 {
		t.Errorf("expected one stored invoice, got %d", len(repo.invoices))
	}
}

func TestCreatePaid_SamePaymentRefDifferentPatients(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	_, dup1, err := svc.CreatePaid(context.Background(), &Invoice{
		PatientID: uuid.New(), AmountCents: 100, PaymentMethodRef: strPtr("pm_shared"),
	}, nil)
	if err != nil || dup1 {
		t.Fatalf("first: err=%v dup=%v", err, dup1)
	}
	_, dup2, err := svc.CreatePaid(context.Background(), &Invoice{
		PatientID: uuid.New(), AmountCents: 100, PaymentMethodRef: strPtr("pm_shared"),
	}, nil)
	if err != nil || dup2 {
		t.Fatalf("second: err=%v dup=%v", err, dup2)
	}
	if len(repo.invoices) != 2 {
		t.Errorf("dedup is per patient; expected 2 invoices, got %d", len(repo.invoices))
	}
}

func TestCreatePaid_RequiresPatient(t *testing.T) {
	svc := NewService(newMockRepo())
	if _, _, err := svc.CreatePaid(context.Background(), &Invoice{AmountCents: 100}, nil); err == nil {
		t.Error("expected error for missing patient id")
	}
}

// racingRepo misses the duplicate pre-check once, then reports the unique
// violation from Create, as when a concurrent identical request commits
// between the two.
type racingRepo struct {
	*mockRepo
	existing   *Invoice
	findMissed bool
}

func (r *racingRepo) FindByPaymentMethodRef(ctx context.Context, patientID uuid.UUID, ref string) (*Invoice, error) {
	if !r.findMissed {
		r.findMissed = true
		return nil, ErrNotFound
	}
	return r.existing, nil
}

func (r *racingRepo) Create(ctx context.Context, inv *Invoice) error {
	return ErrDuplicate
}

func TestCreatePaid_UniqueViolationRaceResolvesToExisting(t *testing.T) {
	pid := uuid.New()
	existing := &Invoice{ID: uuid.New(), PatientID: pid, PaymentMethodRef: strPtr("pm_race"), CreatedAt: time.Now()}
	repo := &racingRepo{mockRepo: newMockRepo(), existing: existing}
	svc := NewService(repo)

	got, duplicate, err := svc.CreatePaid(context.Background(), &Invoice{
		PatientID:        pid,
		AmountCents:      100,
		PaymentMethodRef: strPtr("pm_race"),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !duplicate || got.ID != existing.ID {
		t.Errorf("expected race resolved to existing invoice, got dup=%v", duplicate)
	}
}

func TestCreatePaid_StorageErrorSurfaces(t *testing.T) {
	repo := newMockRepo()
	repo.createErr = errors.New("deadlock")
	svc := NewService(repo)

	_, _, err := svc.CreatePaid(context.Background(), &Invoice{PatientID: uuid.New(), AmountCents: 1}, nil)
	if err == nil {
		t.Error("expected storage error to surface")
	}
}

func TestNextReferenceNumber(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	at := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

	ref, err := svc.NextReferenceNumber(context.Background(), at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "INV-202608-0001" {
		t.Errorf("expected INV-202608-0001, got %s", ref)
	}

	repo.invoices[uuid.New()] = &Invoice{CreatedAt: time.Now()}
	ref, err = svc.NextReferenceNumber(context.Background(), at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "INV-202608-0002" {
		t.Errorf("expected INV-202608-0002, got %s", ref)
	}
}

func TestCreatePaid_BackdatedPaidAtKeepsCreationMonthReference(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	past := time.Date(2020, time.January, 15, 12, 0, 0, 0, time.UTC)
	inv := &Invoice{
		PatientID:        uuid.New(),
		AmountCents:      29700,
		PaidAt:           &past,
		PaymentMethodRef: strPtr("pm_backdated"),
	}
	created, _, err := svc.CreatePaid(context.Background(), inv, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The sequence counts current-month rows, so the label must follow the
	// creation month even when the event-supplied paid date is old.
	want := "INV-" + time.Now().Format("200601") + "-0001"
	if created.ReferenceNumber != want {
		t.Errorf("expected %s, got %s", want, created.ReferenceNumber)
	}
	if !created.PaidAt.Equal(past) {
		t.Error("the paid date itself must stay backdated")
	}
}
