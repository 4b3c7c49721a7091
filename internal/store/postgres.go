package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entrytracker/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS people (
	seq           BIGSERIAL,
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	name          TEXT NOT NULL,
	enrollment_no TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	qr_code_data  TEXT NOT NULL,
	qr_image_url  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	seq                  BIGSERIAL PRIMARY KEY,
	id                   TEXT UNIQUE NOT NULL,
	owner_id             TEXT NOT NULL,
	type                 TEXT NOT NULL CHECK (type IN ('entry', 'exit')),
	occurred_at          TIMESTAMPTZ NOT NULL,
	person_id            TEXT,
	person_name          TEXT,
	person_enrollment_no TEXT
);

CREATE INDEX IF NOT EXISTS idx_people_owner ON people(owner_id, seq);
CREATE INDEX IF NOT EXISTS idx_entries_owner ON entries(owner_id, seq);
`

// Postgres persists people and entries through pgx.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection. Call Migrate before first use.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the tables when missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *Postgres) ListPeople(ctx context.Context, ownerID string) ([]model.Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, enrollment_no, email, phone, qr_code_data, qr_image_url, created_at
		FROM people
		WHERE owner_id = $1
		ORDER BY seq ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	people := make([]model.Person, 0)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

func (s *Postgres) AddPerson(ctx context.Context, p model.Person) error {
	if p.ID == "" {
		return errIDRequired
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (id, owner_id, name, enrollment_no, email, phone, qr_code_data, qr_image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.OwnerID, p.Name, p.EnrollmentNo, p.Email, p.Phone, p.QRCodeData, p.QRImageURL, utc(p.CreatedAt))
	return err
}

func (s *Postgres) DeletePerson(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM people WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListEntries(ctx context.Context, ownerID string) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, owner_id, type, occurred_at, person_id, person_name, person_enrollment_no
		FROM entries
		WHERE owner_id = $1
		ORDER BY seq ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Postgres) AddEntry(ctx context.Context, e model.Entry) (model.Entry, error) {
	if e.ID == "" {
		return model.Entry{}, errIDRequired
	}
	pid, pname, penroll := snapshotArgs(e.Person)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO entries (id, owner_id, type, occurred_at, person_id, person_name, person_enrollment_no)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING seq
	`, e.ID, e.OwnerID, string(e.Type), utc(e.Timestamp), pid, pname, penroll).Scan(&e.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		// already stored under this id
		return scanEntry(s.db.QueryRowContext(ctx, `
			SELECT seq, id, owner_id, type, occurred_at, person_id, person_name, person_enrollment_no
			FROM entries
			WHERE id = $1
		`, e.ID))
	}
	if err != nil {
		return model.Entry{}, err
	}
	e.Timestamp = utc(e.Timestamp)
	return e, nil
}

func (s *Postgres) ClearEntries(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE owner_id = $1`, ownerID)
	return err
}

func (s *Postgres) Close() error { return s.db.Close() }
