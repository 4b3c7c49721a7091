// Package store holds the persistence backends for people and entries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"entrytracker/internal/model"
)

// Backend is the persistence contract shared by every implementation. Lists
// return records in insertion order; AddEntry assigns Seq and ignores a
// repeated entry id, returning the stored record.
type Backend interface {
	ListPeople(ctx context.Context, ownerID string) ([]model.Person, error)
	AddPerson(ctx context.Context, p model.Person) error
	DeletePerson(ctx context.Context, id, ownerID string) error
	ListEntries(ctx context.Context, ownerID string) ([]model.Entry, error)
	AddEntry(ctx context.Context, e model.Entry) (model.Entry, error)
	ClearEntries(ctx context.Context, ownerID string) error
	Close() error
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*Postgres)(nil)
	_ Backend = (*SQLite)(nil)
	_ Backend = (*Badger)(nil)
	_ Backend = (*Sheet)(nil)
)

var errIDRequired = errors.New("id required")

// snapshotColumns maps the nullable person columns of an entry row.
type snapshotColumns struct {
	ID           sql.NullString
	Name         sql.NullString
	EnrollmentNo sql.NullString
}

func (c snapshotColumns) snapshot() *model.PersonSnapshot {
	if !c.ID.Valid && !c.Name.Valid && !c.EnrollmentNo.Valid {
		return nil
	}
	return &model.PersonSnapshot{ID: c.ID.String, Name: c.Name.String, EnrollmentNo: c.EnrollmentNo.String}
}

func snapshotArgs(p *model.PersonSnapshot) (id, name, enrollment any) {
	if p == nil {
		return nil, nil, nil
	}
	return nullable(p.ID), nullable(p.Name), nullable(p.EnrollmentNo)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (model.Person, error) {
	var p model.Person
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.EnrollmentNo, &p.Email, &p.Phone, &p.QRCodeData, &p.QRImageURL, &p.CreatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

func scanEntry(row rowScanner) (model.Entry, error) {
	var (
		e    model.Entry
		typ  string
		snap snapshotColumns
	)
	if err := row.Scan(&e.Seq, &e.ID, &e.OwnerID, &typ, &e.Timestamp, &snap.ID, &snap.Name, &snap.EnrollmentNo); err != nil {
		return model.Entry{}, err
	}
	e.Type = model.EntryType(typ)
	e.Timestamp = e.Timestamp.UTC()
	e.Person = snap.snapshot()
	return e, nil
}

func utc(t time.Time) time.Time { return t.UTC() }
