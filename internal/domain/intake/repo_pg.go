package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/clinicops/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const submissionCols = `id, patient_id, external_id, form_type, answers, submitted_at, created_at`

func (r *repoPG) scanSubmission(row pgx.Row) (*Submission, error) {
	var s Submission
	err := row.Scan(&s.ID, &s.PatientID, &s.ExternalID, &s.FormType, &s.Answers, &s.SubmittedAt, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *Submission) error {
	s.ID = uuid.New()
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO intake_submission (id, patient_id, external_id, form_type, answers, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.PatientID, s.ExternalID, s.FormType, s.Answers, s.SubmittedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return r.scanSubmission(r.conn(ctx).QueryRow(ctx, `SELECT `+submissionCols+` FROM intake_submission WHERE id = $1`, id))
}

func (r *repoPG) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Submission, error) {
	return r.scanSubmission(r.conn(ctx).QueryRow(ctx, `
		SELECT `+submissionCols+` FROM intake_submission
		WHERE patient_id = $1 ORDER BY submitted_at DESC LIMIT 1`, patientID))
}
