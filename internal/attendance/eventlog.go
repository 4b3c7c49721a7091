package attendance

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"entrytracker/internal/model"
)

// EventLog is the append-only log of entry and exit events.
type EventLog struct {
	store Store
	now   func() time.Time
}

// NewEventLog creates an event log over store.
func NewEventLog(store Store) *EventLog {
	return &EventLog{store: store, now: time.Now}
}

// Append records a new event stamped with the current time.
func (l *EventLog) Append(ctx context.Context, ownerID string, typ model.EntryType, person *model.PersonSnapshot) (model.Entry, error) {
	if !typ.Valid() {
		return model.Entry{}, &ValidationError{Kind: InvalidType, Value: string(typ)}
	}
	e := model.Entry{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Type:      typ,
		Timestamp: l.now().UTC(),
		Person:    copySnapshot(person),
	}
	return l.Record(ctx, e)
}

// Record stores a fully formed entry. Retrying with the same id returns the
// stored entry without a second append.
func (l *EventLog) Record(ctx context.Context, e model.Entry) (model.Entry, error) {
	if !e.Type.Valid() {
		return model.Entry{}, &ValidationError{Kind: InvalidType, Value: string(e.Type)}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	stored, err := l.store.AddEntry(ctx, e)
	if err != nil {
		return model.Entry{}, persistErr("add entry", err)
	}
	return stored, nil
}

// ListAll returns entries newest first; ties put the later append first.
func (l *EventLog) ListAll(ctx context.Context, ownerID string) ([]model.Entry, error) {
	entries, err := l.store.ListEntries(ctx, ownerID)
	if err != nil {
		return nil, persistErr("list entries", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[j].Before(entries[i]) })
	return entries, nil
}

// ClearAll irreversibly deletes every entry of the owner.
func (l *EventLog) ClearAll(ctx context.Context, ownerID string) error {
	return persistErr("clear entries", l.store.ClearEntries(ctx, ownerID))
}

func copySnapshot(s *model.PersonSnapshot) *model.PersonSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	if c.ID == "" && c.Name == "" && c.EnrollmentNo == "" {
		return nil
	}
	return &c
}
