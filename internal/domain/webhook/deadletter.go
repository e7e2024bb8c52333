package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/platform/db"
)

// DeadLetterEntry is an inbound event that passed authentication and
// validation but could not be persisted. The raw payload is kept intact so
// the event can be replayed through the pipeline after the fault is fixed.
type DeadLetterEntry struct {
	ID            uuid.UUID              `db:"id" json:"id"`
	Payload       map[string]interface{} `db:"payload" json:"payload"`
	Reason        string                 `db:"reason" json:"reason"`
	CustomerEmail string                 `db:"customer_email" json:"customer_email,omitempty"`
	SubmissionID  string                 `db:"submission_id" json:"submission_id,omitempty"`
	Treatment     string                 `db:"treatment" json:"treatment,omitempty"`
	Replayed      bool                   `db:"replayed" json:"replayed"`
	ReplayedAt    *time.Time             `db:"replayed_at" json:"replayed_at,omitempty"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
}

// ErrDeadLetterNotFound is returned when no entry matches a lookup.
var ErrDeadLetterNotFound = errors.New("dead letter entry not found")

// DeadLetterRepository stores entries in the clinic schema so parked events
// stay tenant-scoped like everything else.
type DeadLetterRepository interface {
	Create(ctx context.Context, entry *DeadLetterEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error)
	ListPending(ctx context.Context, limit, offset int) ([]*DeadLetterEntry, int, error)
	MarkReplayed(ctx context.Context, id uuid.UUID) error
}

type deadLetterRepoPG struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepoPG(pool *pgxpool.Pool) DeadLetterRepository {
	return &deadLetterRepoPG{pool: pool}
}

func (r *deadLetterRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const deadLetterCols = `id, payload, reason, customer_email, submission_id, treatment, replayed, replayed_at, created_at`

func (r *deadLetterRepoPG) Create(ctx context.Context, entry *DeadLetterEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_dead_letter (id, payload, reason, customer_email, submission_id, treatment, replayed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		entry.ID, payload, entry.Reason, entry.CustomerEmail, entry.SubmissionID, entry.Treatment, entry.CreatedAt,
	)
	return err
}

func (r *deadLetterRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+deadLetterCols+` FROM webhook_dead_letter WHERE id = $1`, id)
	entry, err := scanDeadLetter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeadLetterNotFound
	}
	return entry, err
}

func (r *deadLetterRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*DeadLetterEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_dead_letter WHERE replayed = FALSE`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+deadLetterCols+` FROM webhook_dead_letter
		WHERE replayed = FALSE
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func (r *deadLetterRepoPG) MarkReplayed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE webhook_dead_letter SET replayed = TRUE, replayed_at = NOW()
		WHERE id = $1 AND replayed = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*DeadLetterEntry, error) {
	var entry DeadLetterEntry
	var payload []byte
	err := row.Scan(&entry.ID, &payload, &entry.Reason, &entry.CustomerEmail,
		&entry.SubmissionID, &entry.Treatment, &entry.Replayed, &entry.ReplayedAt, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

// DeadLetterQueue parks events whose persistence failed. Park never returns
// an error to the pipeline caller beyond reporting whether the entry landed;
// a queue that itself fails must not turn a parkable fault into a hard 500
// on its own.
type DeadLetterQueue struct {
	repo   DeadLetterRepository
	logger zerolog.Logger
}

func NewDeadLetterQueue(repo DeadLetterRepository, logger zerolog.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{repo: repo, logger: logger}
}

// Entry fetches one parked event.
func (q *DeadLetterQueue) Entry(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	return q.repo.GetByID(ctx, id)
}

// MarkReplayed flags the entry as successfully replayed.
func (q *DeadLetterQueue) MarkReplayed(ctx context.Context, id uuid.UUID) error {
	return q.repo.MarkReplayed(ctx, id)
}

// Park stores the raw event with enough context to triage it. Returns the
// entry ID on success and uuid.Nil with ok=false when the queue write itself
// failed.
func (q *DeadLetterQueue) Park(ctx context.Context, raw map[string]interface{}, ev *NormalizedEvent, reason string) (uuid.UUID, bool) {
	entry := &DeadLetterEntry{
		Payload: raw,
		Reason:  reason,
	}
	if ev != nil {
		entry.CustomerEmail = ev.CustomerEmail
		entry.SubmissionID = ev.SubmissionID
		entry.Treatment = ev.DeclaredTreatment()
	}

	if err := q.repo.Create(ctx, entry); err != nil {
		q.logger.Error().Err(err).Str("reason", reason).
			Msg("dead letter write failed; event context follows")
		q.logger.Error().Interface("payload", raw).Msg("unparked event payload")
		return uuid.Nil, false
	}

	q.logger.Warn().Str("dead_letter_id", entry.ID.String()).Str("reason", reason).
		Str("customer_email", entry.CustomerEmail).
		Msg("event parked in dead letter queue")
	return entry.ID, true
}
