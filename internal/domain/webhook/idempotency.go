package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/platform/db"
)

const (
	idempotencyNamespace = "invoice-webhook:"
	// IdempotencyTTL is how long a processed event's cached response is
	// retained. Partners retry for days, not weeks.
	IdempotencyTTL = 7 * 24 * time.Hour
)

// ErrNoIdempotencyRecord is returned when no record exists for a key.
var ErrNoIdempotencyRecord = errors.New("no idempotency record")

// IdempotencyRecord caches the response for one distinct event body. The key
// is a fingerprint of the raw bytes: a redelivery of the identical event hits
// the record, a differently-encoded event about the same payment does not
// (that case is caught by the invoice-level dedup).
type IdempotencyRecord struct {
	Key       string    `db:"key" json:"key"`
	Response  []byte    `db:"response" json:"response"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// IdempotencyKey fingerprints the raw, unparsed request body.
func IdempotencyKey(raw []byte) string {
	sum := sha256.Sum256(raw)
	return idempotencyNamespace + hex.EncodeToString(sum[:])
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Put inserts the record. A uniqueness conflict (a concurrent identical
	// request won the race) is success, not an error.
	Put(ctx context.Context, rec *IdempotencyRecord) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// IdempotencyGuard wraps the repository with the pipeline's failure policy:
// a flaky lookup is treated as a miss (losing an event is worse than a rare
// duplicate), and a failed insert is logged but never fails the response.
type IdempotencyGuard struct {
	repo   IdempotencyRepository
	logger zerolog.Logger
	ttl    time.Duration
}

func NewIdempotencyGuard(repo IdempotencyRepository, logger zerolog.Logger) *IdempotencyGuard {
	return &IdempotencyGuard{repo: repo, logger: logger, ttl: IdempotencyTTL}
}

// Check looks up a previously cached response for the key. Returns the
// record and true on a hit; lookup errors degrade to a miss.
func (g *IdempotencyGuard) Check(ctx context.Context, key string) (*IdempotencyRecord, bool) {
	rec, err := g.repo.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNoIdempotencyRecord) {
			g.logger.Warn().Err(err).Str("key", key).Msg("idempotency lookup failed; proceeding as new event")
		}
		return nil, false
	}
	return rec, true
}

// Record stores the response for the key with the configured expiry. Errors
// are logged and swallowed; the event has already been processed.
func (g *IdempotencyGuard) Record(ctx context.Context, key string, response []byte) {
	now := time.Now()
	rec := &IdempotencyRecord{
		Key:       key,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	if err := g.repo.Put(ctx, rec); err != nil {
		g.logger.Error().Err(err).Str("key", key).Msg("failed to record idempotency key")
		return
	}

	// Piggyback expiry cleanup on the write path. The request context holds
	// the clinic-scoped connection, so the purge hits the right schema.
	if deleted, err := g.repo.DeleteExpired(ctx); err == nil && deleted > 0 {
		g.logger.Debug().Int64("deleted", deleted).Msg("purged expired idempotency records")
	}
}

// -- Postgres repository --

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type idempotencyRepoPG struct{ pool *pgxpool.Pool }

func NewIdempotencyRepoPG(pool *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepoPG{pool: pool}
}

func (r *idempotencyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *idempotencyRepoPG) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT key, response, created_at, expires_at
		FROM webhook_idempotency
		WHERE key = $1 AND expires_at > NOW()`, key).
		Scan(&rec.Key, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNoIdempotencyRecord
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *idempotencyRepoPG) Put(ctx context.Context, rec *IdempotencyRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_idempotency (key, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`,
		rec.Key, rec.Response, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// A concurrent identical request beat this one. That request's
			// cached response is as good as ours.
			return nil
		}
		return err
	}
	return nil
}

func (r *idempotencyRepoPG) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM webhook_idempotency WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
