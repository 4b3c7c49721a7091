package model

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist for the owner.
var ErrNotFound = errors.New("not found")

// EntryType is the direction of a logged event.
type EntryType string

const (
	EntryTypeEntry EntryType = "entry"
	EntryTypeExit  EntryType = "exit"
)

// Valid reports whether t is one of the two known directions.
func (t EntryType) Valid() bool {
	return t == EntryTypeEntry || t == EntryTypeExit
}

// ParseEntryType normalizes user input into an EntryType.
func ParseEntryType(s string) (EntryType, bool) {
	t := EntryType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Person represents a registered person.
type Person struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Name         string    `json:"name"`
	EnrollmentNo string    `json:"enrollment_no,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	QRCodeData   string    `json:"qr_code_data"`
	QRImageURL   string    `json:"qr_image_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot returns the identifying fields copied onto an Entry.
func (p Person) Snapshot() *PersonSnapshot {
	return &PersonSnapshot{ID: p.ID, Name: p.Name, EnrollmentNo: p.EnrollmentNo}
}

// PersonSnapshot is captured at event time and never dereferenced later.
type PersonSnapshot struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	EnrollmentNo string `json:"enrollment_no,omitempty"`
}

// Entry is one logged entry or exit event. Seq is the store-assigned append
// order used to break timestamp ties.
type Entry struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Type      EntryType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"`
	Person    *PersonSnapshot `json:"person,omitempty"`
}

// PersonID returns the snapshot id, or "" for anonymous entries. A snapshot
// without an id (manual entry by name only) is anonymous for occupancy.
func (e Entry) PersonID() string {
	if e.Person == nil {
		return ""
	}
	return e.Person.ID
}

// Before orders entries chronologically, breaking ties by append order.
func (e Entry) Before(o Entry) bool {
	if !e.Timestamp.Equal(o.Timestamp) {
		return e.Timestamp.Before(o.Timestamp)
	}
	return e.Seq < o.Seq
}
