package store

import (
	"context"
	"sync"

	"entrytracker/internal/model"
)

// Memory keeps everything in process. Used for dev and tests.
type Memory struct {
	mu      sync.RWMutex
	people  []model.Person
	entries []model.Entry
	seq     int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ListPeople(ctx context.Context, ownerID string) ([]model.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Person, 0)
	for _, p := range m.people {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) AddPerson(ctx context.Context, p model.Person) error {
	if p.ID == "" {
		return errIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.people {
		if existing.ID == p.ID {
			return nil
		}
	}
	m.people = append(m.people, p)
	return nil
}

func (m *Memory) DeletePerson(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.people {
		if p.ID == id && p.OwnerID == ownerID {
			m.people = append(m.people[:i], m.people[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *Memory) ListEntries(ctx context.Context, ownerID string) ([]model.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Entry, 0)
	for _, e := range m.entries {
		if e.OwnerID == ownerID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (m *Memory) AddEntry(ctx context.Context, e model.Entry) (model.Entry, error) {
	if e.ID == "" {
		return model.Entry{}, errIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entries {
		if existing.ID == e.ID {
			return cloneEntry(existing), nil
		}
	}
	m.seq++
	e.Seq = m.seq
	e = cloneEntry(e)
	m.entries = append(m.entries, e)
	return cloneEntry(e), nil
}

func (m *Memory) ClearEntries(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.OwnerID != ownerID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneEntry(e model.Entry) model.Entry {
	if e.Person != nil {
		p := *e.Person
		e.Person = &p
	}
	return e
}
