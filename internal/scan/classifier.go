package scan

import (
	"entrytracker/internal/model"
	"entrytracker/internal/occupancy"
	"entrytracker/internal/payload"
)

// Proposal is the suggested direction for a scanned person. The operator may
// flip it before it is recorded.
type Proposal struct {
	Type   model.EntryType       `json:"type"`
	Person *model.PersonSnapshot `json:"person"`
	Inside bool                  `json:"inside"`
}

// Classify toggles on presence: a person already inside is proposed to exit.
func Classify(p payload.Payload, st occupancy.State) Proposal {
	inside := st.Inside(p.ID)
	typ := model.EntryTypeEntry
	if inside {
		typ = model.EntryTypeExit
	}
	return Proposal{Type: typ, Person: p.Snapshot(), Inside: inside}
}

// Override replaces the proposed direction with the operator's choice.
// An invalid choice leaves the proposal unchanged.
func (p Proposal) Override(t model.EntryType) Proposal {
	if t.Valid() {
		p.Type = t
	}
	return p
}
