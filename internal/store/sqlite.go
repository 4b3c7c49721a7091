package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"entrytracker/internal/model"
)

// SQLite is the single-file backend for standalone installs.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS people (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		id            TEXT UNIQUE NOT NULL,
		owner_id      TEXT NOT NULL,
		name          TEXT NOT NULL,
		enrollment_no TEXT NOT NULL DEFAULT '',
		email         TEXT NOT NULL DEFAULT '',
		phone         TEXT NOT NULL DEFAULT '',
		qr_code_data  TEXT NOT NULL,
		qr_image_url  TEXT NOT NULL DEFAULT '',
		created_at    DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		seq                  INTEGER PRIMARY KEY AUTOINCREMENT,
		id                   TEXT UNIQUE NOT NULL,
		owner_id             TEXT NOT NULL,
		type                 TEXT NOT NULL CHECK (type IN ('entry', 'exit')),
		occurred_at          DATETIME NOT NULL,
		person_id            TEXT,
		person_name          TEXT,
		person_enrollment_no TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_people_owner  ON people(owner_id);
	CREATE INDEX IF NOT EXISTS idx_entries_owner ON entries(owner_id);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }

// -------- People --------

func (s *SQLite) ListPeople(ctx context.Context, ownerID string) ([]model.Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, enrollment_no, email, phone, qr_code_data, qr_image_url, created_at
		 FROM people WHERE owner_id = ? ORDER BY seq`, ownerID)
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

func (s *SQLite) AddPerson(ctx context.Context, p model.Person) error {
	if p.ID == "" {
		return errIDRequired
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO people (id, owner_id, name, enrollment_no, email, phone, qr_code_data, qr_image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.EnrollmentNo, p.Email, p.Phone, p.QRCodeData, p.QRImageURL, utc(p.CreatedAt),
	)
	return err
}

func (s *SQLite) DeletePerson(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM people WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// -------- Entries --------

func (s *SQLite) ListEntries(ctx context.Context, ownerID string) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, owner_id, type, occurred_at, person_id, person_name, person_enrollment_no
		 FROM entries WHERE owner_id = ? ORDER BY seq`, ownerID)
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

func (s *SQLite) AddEntry(ctx context.Context, e model.Entry) (model.Entry, error) {
	if e.ID == "" {
		return model.Entry{}, errIDRequired
	}
	pid, pname, penroll := snapshotArgs(e.Person)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (id, owner_id, type, occurred_at, person_id, person_name, person_enrollment_no)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, string(e.Type), utc(e.Timestamp), pid, pname, penroll,
	)
	if err != nil {
		return model.Entry{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.entryByID(ctx, e.ID)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.Entry{}, err
	}
	e.Seq = seq
	e.Timestamp = utc(e.Timestamp)
	return e, nil
}

func (s *SQLite) entryByID(ctx context.Context, id string) (model.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT seq, id, owner_id, type, occurred_at, person_id, person_name, person_enrollment_no
		 FROM entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, model.ErrNotFound
	}
	return e, err
}

func (s *SQLite) ClearEntries(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE owner_id = ?`, ownerID)
	return err
}
