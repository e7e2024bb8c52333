package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/clinicops/internal/platform/db"
	"github.com/clinicops/clinicops/internal/platform/hipaa"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct {
	pool      *pgxpool.Pool
	encryptor hipaa.FieldEncryptor
}

// NewRepoPG creates a patient repository without PHI encryption.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

// NewRepoPGWithEncryption creates a patient repository with PHI field-level
// encryption. Email and phone are encrypted before storage and decrypted
// after retrieval.
func NewRepoPGWithEncryption(pool *pgxpool.Pool, enc hipaa.FieldEncryptor) Repository {
	return &repoPG{pool: pool, encryptor: enc}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, mrn, active, first_name, last_name, birth_date,
	email, phone_mobile, address_line1, address_line2, city, state, postal_code,
	tags, source_metadata, created_at, updated_at`

func (r *repoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.Active, &p.FirstName, &p.LastName, &p.BirthDate,
		&p.Email, &p.PhoneMobile, &p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.PostalCode,
		&p.Tags, &p.SourceMetadata, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.decryptPHI(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()

	// Encrypt PHI fields before storage, then restore originals for the caller.
	origEmail, origPhone := p.Email, p.PhoneMobile
	if err := r.encryptPHI(p); err != nil {
		return err
	}
	defer func() { p.Email, p.PhoneMobile = origEmail, origPhone }()

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, mrn, active, first_name, last_name, birth_date,
			email, phone_mobile, address_line1, address_line2, city, state, postal_code,
			tags, source_metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.MRN, p.Active, p.FirstName, p.LastName, p.BirthDate,
		p.Email, p.PhoneMobile, p.AddressLine1, p.AddressLine2, p.City, p.State, p.PostalCode,
		p.Tags, p.SourceMetadata)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	origEmail, origPhone := p.Email, p.PhoneMobile
	if err := r.encryptPHI(p); err != nil {
		return err
	}
	defer func() { p.Email, p.PhoneMobile = origEmail, origPhone }()

	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET active=$2, first_name=$3, last_name=$4, birth_date=$5,
			email=$6, phone_mobile=$7, address_line1=$8, address_line2=$9,
			city=$10, state=$11, postal_code=$12, tags=$13, source_metadata=$14,
			updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Active, p.FirstName, p.LastName, p.BirthDate,
		p.Email, p.PhoneMobile, p.AddressLine1, p.AddressLine2,
		p.City, p.State, p.PostalCode, p.Tags, p.SourceMetadata)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *repoPG) ListByTag(ctx context.Context, tag string, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient WHERE $1 = ANY(tags)`, tag).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient WHERE $1 = ANY(tags) ORDER BY created_at DESC LIMIT $2 OFFSET $3`, tag, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

// FindActiveByEmail scans active patients and compares decrypted emails.
// Ciphertexts are non-deterministic (random nonce), so equality cannot be
// pushed into SQL; the comparison happens after decryption, keyed
// case-insensitively.
func (r *repoPG) FindActiveByEmail(ctx context.Context, email string) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient WHERE active AND email IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	want := strings.ToLower(strings.TrimSpace(email))
	var matches []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, err
		}
		if p.Email != nil && strings.ToLower(strings.TrimSpace(*p.Email)) == want {
			matches = append(matches, p)
		}
	}
	return matches, rows.Err()
}

func (r *repoPG) FindByName(ctx context.Context, firstName, lastName string) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+` FROM patient
		WHERE active AND LOWER(first_name) = LOWER($1) AND LOWER(last_name) = LOWER($2)
		ORDER BY created_at DESC`, firstName, lastName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *repoPG) FindBySubmissionID(ctx context.Context, submissionID string) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `
		SELECT `+patientCols+` FROM patient
		WHERE source_metadata->>'submission_id' = $1
		ORDER BY created_at DESC LIMIT 1`, submissionID))
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Patient, error) {
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// -- PHI Encryption Helpers --

func (r *repoPG) encryptPHI(p *Patient) error {
	var err error
	if p.Email, err = r.encryptPtr(p.Email); err != nil {
		return err
	}
	if p.PhoneMobile, err = r.encryptPtr(p.PhoneMobile); err != nil {
		return err
	}
	return nil
}

func (r *repoPG) decryptPHI(p *Patient) error {
	var err error
	if p.Email, err = r.decryptPtr(p.Email); err != nil {
		return err
	}
	if p.PhoneMobile, err = r.decryptPtr(p.PhoneMobile); err != nil {
		return err
	}
	return nil
}

func (r *repoPG) encryptPtr(value *string) (*string, error) {
	if r.encryptor == nil || value == nil || *value == "" {
		return value, nil
	}
	encrypted, err := r.encryptor.Encrypt(*value)
	if err != nil {
		return nil, err
	}
	return &encrypted, nil
}

func (r *repoPG) decryptPtr(value *string) (*string, error) {
	if r.encryptor == nil || value == nil || *value == "" {
		return value, nil
	}
	decrypted, err := r.encryptor.Decrypt(*value)
	if err != nil {
		return nil, err
	}
	return &decrypted, nil
}
