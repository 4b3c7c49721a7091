// Package occupancy derives who is inside from the entry/exit log.
//
// The derived state is a pure fold over the log in chronological order
// (timestamp, then append sequence). Engine caches the fold and extends it
// incrementally; any entry that would land before the last folded one forces
// a full replay instead.
package occupancy

import (
	"sort"
	"sync"

	"entrytracker/internal/model"
)

// State is the derived occupancy. It is never persisted.
type State struct {
	inside    map[string]struct{}
	Anonymous int
}

// NewState returns an empty state.
func NewState() State {
	return State{inside: map[string]struct{}{}}
}

// Inside reports whether personID is currently inside.
func (s State) Inside(personID string) bool {
	_, ok := s.inside[personID]
	return ok
}

// InsideIDs returns the inside set in sorted order.
func (s State) InsideIDs() []string {
	ids := make([]string, 0, len(s.inside))
	for id := range s.inside {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count is the current occupancy: known people inside plus the anonymous net count.
func (s State) Count() int {
	return len(s.inside) + s.Anonymous
}

// Equal compares two states by content.
func (s State) Equal(o State) bool {
	if s.Anonymous != o.Anonymous || len(s.inside) != len(o.inside) {
		return false
	}
	for id := range s.inside {
		if _, ok := o.inside[id]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers cannot mutate a cached state.
func (s State) Clone() State {
	c := State{inside: make(map[string]struct{}, len(s.inside)), Anonymous: s.Anonymous}
	for id := range s.inside {
		c.inside[id] = struct{}{}
	}
	return c
}

// apply folds one entry into s in place.
func (s *State) apply(e model.Entry) {
	if s.inside == nil {
		s.inside = map[string]struct{}{}
	}
	if id := e.PersonID(); id != "" {
		switch e.Type {
		case model.EntryTypeEntry:
			s.inside[id] = struct{}{}
		case model.EntryTypeExit:
			delete(s.inside, id)
		}
		return
	}
	switch e.Type {
	case model.EntryTypeEntry:
		s.Anonymous++
	case model.EntryTypeExit:
		if s.Anonymous > 0 {
			s.Anonymous--
		}
	}
}

// Sorted returns a chronologically ordered copy of entries. The input is untouched.
func Sorted(entries []model.Entry) []model.Entry {
	out := make([]model.Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Fold replays the whole log from scratch.
func Fold(entries []model.Entry) State {
	st := NewState()
	for _, e := range Sorted(entries) {
		st.apply(e)
	}
	return st
}

// Engine keeps the log and a cached fold of it. Safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	log     []model.Entry
	state   State
	last    *model.Entry
	refolds int
}

// NewEngine builds an engine over an existing log.
func NewEngine(entries []model.Entry) *Engine {
	e := &Engine{}
	e.Reset(entries)
	return e
}

// Reset replaces the log and re-folds it.
func (g *Engine) Reset(entries []model.Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log = Sorted(entries)
	g.refold()
}

func (g *Engine) refold() {
	g.state = NewState()
	g.last = nil
	for i := range g.log {
		g.state.apply(g.log[i])
	}
	if n := len(g.log); n > 0 {
		last := g.log[n-1]
		g.last = &last
	}
	g.refolds++
}

// Apply adds one entry. An entry already in the log (same id) is ignored.
// It returns true when the entry arrived out of order and the state was re-folded.
func (g *Engine) Apply(e model.Entry) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.log {
		if g.log[i].ID == e.ID && e.ID != "" {
			return false
		}
	}

	if g.last == nil || !e.Before(*g.last) {
		g.log = append(g.log, e)
		g.state.apply(e)
		g.last = &e
		return false
	}

	idx := sort.Search(len(g.log), func(i int) bool { return e.Before(g.log[i]) })
	g.log = append(g.log, model.Entry{})
	copy(g.log[idx+1:], g.log[idx:])
	g.log[idx] = e
	g.refold()
	return true
}

// State returns a copy of the cached state.
func (g *Engine) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Clone()
}

// Entries returns a chronological copy of the log.
func (g *Engine) Entries() []model.Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Entry, len(g.log))
	copy(out, g.log)
	return out
}

// Verify replays the log and reports whether the cached state matches.
func (g *Engine) Verify() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Fold(g.log).Equal(g.state)
}

// Refolds reports how many full replays have run, including the initial one.
func (g *Engine) Refolds() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.refolds
}
