package attendance

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"entrytracker/internal/model"
	"entrytracker/internal/occupancy"
	"entrytracker/internal/payload"
	"entrytracker/internal/queue"
	"entrytracker/internal/scan"
)

// MessageEntryRecorded is the queue message type published after each append.
const MessageEntryRecorded = "entry.recorded"

// EntryMessage is the body of an entry.recorded message.
type EntryMessage struct {
	OwnerID   string          `json:"owner_id"`
	EntryID   string          `json:"entry_id"`
	Type      model.EntryType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// Service is the per-owner tracking context: registry, event log and the
// cached occupancy of every owner seen so far. Writes are serialized per owner.
type Service struct {
	registry  *Registry
	log       *EventLog
	publisher Publisher
	recorder  Recorder
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time

	mu     sync.Mutex
	owners map[string]*ownerState
}

type ownerState struct {
	mu     sync.Mutex
	engine *occupancy.Engine
}

// Options configures optional collaborators of the service.
type Options struct {
	Publisher Publisher
	Recorder  Recorder
	Logger    *zap.Logger
	// Location fixes the calendar used for daily aggregates. Defaults to UTC.
	Location *time.Location
}

// NewService creates a service backed by a registry and event log.
func NewService(registry *Registry, log *EventLog, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		registry:  registry,
		log:       log,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		loc:       opts.Location,
		now:       time.Now,
		owners:    make(map[string]*ownerState),
	}
}

func (s *Service) owner(ownerID string) *ownerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.owners[ownerID]
	if !ok {
		st = &ownerState{}
		s.owners[ownerID] = st
	}
	return st
}

// engineLocked returns the owner's engine, loading it from the store on first
// use. The caller holds st.mu.
func (s *Service) engineLocked(ctx context.Context, ownerID string, st *ownerState) (*occupancy.Engine, error) {
	if st.engine != nil {
		return st.engine, nil
	}
	entries, err := s.log.ListAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	st.engine = occupancy.NewEngine(entries)
	return st.engine, nil
}

func checkOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrMissingOwner
	}
	return nil
}

// AddPerson registers a person for the owner.
func (s *Service) AddPerson(ctx context.Context, ownerID string, in PersonInput) (model.Person, error) {
	if err := checkOwner(ownerID); err != nil {
		return model.Person{}, err
	}
	st := s.owner(ownerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	p, err := s.registry.AddPerson(ctx, ownerID, in)
	if err != nil {
		return model.Person{}, err
	}
	s.logger.Info("person registered", zap.String("owner_id", ownerID), zap.String("person_id", p.ID))
	return p, nil
}

// ListPeople lists the owner's people newest first.
func (s *Service) ListPeople(ctx context.Context, ownerID string) ([]model.Person, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	return s.registry.ListPeople(ctx, ownerID)
}

// GetPerson returns one person.
func (s *Service) GetPerson(ctx context.Context, ownerID, id string) (model.Person, error) {
	if err := checkOwner(ownerID); err != nil {
		return model.Person{}, err
	}
	return s.registry.GetPerson(ctx, ownerID, id)
}

// DeletePerson removes a person without touching the entry log.
func (s *Service) DeletePerson(ctx context.Context, ownerID, id string) error {
	if err := checkOwner(ownerID); err != nil {
		return err
	}
	st := s.owner(ownerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.registry.DeletePerson(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info("person deleted", zap.String("owner_id", ownerID), zap.String("person_id", id))
	return nil
}

// QRCode renders the PNG for a registered person.
func (s *Service) QRCode(ctx context.Context, ownerID, id string) ([]byte, model.Person, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, model.Person{}, err
	}
	return s.registry.QRCodePNG(ctx, ownerID, id)
}

// Scan decodes scanned text and proposes entry or exit from current presence.
// Nothing is recorded.
func (s *Service) Scan(ctx context.Context, ownerID, raw string) (scan.Proposal, error) {
	p, err := payload.Decode(raw)
	if err != nil {
		return scan.Proposal{}, err
	}
	return s.Propose(ctx, ownerID, p)
}

// ScanSource runs one scan session over src and proposes a direction for the
// first code that decodes. The source is released before classification.
func (s *Service) ScanSource(ctx context.Context, ownerID string, src scan.Source) (scan.Proposal, error) {
	if err := checkOwner(ownerID); err != nil {
		return scan.Proposal{}, err
	}
	session := scan.NewSession(src, s.logger)
	p, err := session.Run(ctx)
	if n := session.Rejected(); n > 0 {
		s.logger.Debug("scan frames rejected", zap.String("owner_id", ownerID), zap.Int("rejected", n))
	}
	if err != nil {
		return scan.Proposal{}, err
	}
	return s.Propose(ctx, ownerID, p)
}

// Propose classifies an already decoded payload.
func (s *Service) Propose(ctx context.Context, ownerID string, p payload.Payload) (scan.Proposal, error) {
	state, err := s.Occupancy(ctx, ownerID)
	if err != nil {
		return scan.Proposal{}, err
	}
	return scan.Classify(p, state), nil
}

// Record appends an event and folds it into the cached occupancy once the
// store has confirmed the write.
func (s *Service) Record(ctx context.Context, ownerID string, typ model.EntryType, person *model.PersonSnapshot) (model.Entry, error) {
	if err := checkOwner(ownerID); err != nil {
		return model.Entry{}, err
	}
	if !typ.Valid() {
		return model.Entry{}, &ValidationError{Kind: InvalidType, Value: string(typ)}
	}

	st := s.owner(ownerID)
	st.mu.Lock()
	engine, err := s.engineLocked(ctx, ownerID, st)
	if err != nil {
		st.mu.Unlock()
		return model.Entry{}, err
	}
	e, err := s.log.Append(ctx, ownerID, typ, person)
	if err != nil {
		st.mu.Unlock()
		return model.Entry{}, err
	}
	if engine.Apply(e) {
		s.logger.Warn("entry arrived out of order, occupancy re-folded",
			zap.String("owner_id", ownerID), zap.String("entry_id", e.ID))
	}
	state := engine.State()
	st.mu.Unlock()

	if s.recorder != nil {
		s.recorder.EntryRecorded(e.Type, e.PersonID() == "")
		s.recorder.OccupancyChanged(ownerID, len(state.InsideIDs()), state.Anonymous)
	}
	s.publish(ctx, e)

	s.logger.Info("entry recorded",
		zap.String("owner_id", ownerID),
		zap.String("entry_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("person_id", e.PersonID()),
		zap.Int("current_count", state.Count()),
	)
	return e, nil
}

func (s *Service) publish(ctx context.Context, e model.Entry) {
	if s.publisher == nil {
		return
	}
	body, err := json.Marshal(EntryMessage{OwnerID: e.OwnerID, EntryID: e.ID, Type: e.Type, Timestamp: e.Timestamp})
	if err != nil {
		s.logger.Error("encode entry message", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, queue.Message{Type: MessageEntryRecorded, Body: body}); err != nil {
		s.logger.Warn("queue publish failed", zap.String("entry_id", e.ID), zap.Error(err))
	}
}

// Entries returns the owner's log newest first, truncated to limit when limit > 0.
func (s *Service) Entries(ctx context.Context, ownerID string, limit int) ([]model.Entry, error) {
	return s.EntriesByType(ctx, ownerID, "", limit)
}

// EntriesByType is Entries restricted to one direction. An empty type keeps all.
func (s *Service) EntriesByType(ctx context.Context, ownerID string, typ model.EntryType, limit int) ([]model.Entry, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	if typ != "" && !typ.Valid() {
		return nil, &ValidationError{Kind: InvalidType, Value: string(typ)}
	}
	entries, err := s.log.ListAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if typ != "" {
		kept := entries[:0]
		for _, e := range entries {
			if e.Type == typ {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Occupancy returns the current derived state. It never observes a half-applied append.
func (s *Service) Occupancy(ctx context.Context, ownerID string) (occupancy.State, error) {
	if err := checkOwner(ownerID); err != nil {
		return occupancy.State{}, err
	}
	st := s.owner(ownerID)
	st.mu.Lock()
	defer st.mu.Unlock()
	engine, err := s.engineLocked(ctx, ownerID, st)
	if err != nil {
		return occupancy.State{}, err
	}
	return engine.State(), nil
}

// Today summarizes the current calendar day.
func (s *Service) Today(ctx context.Context, ownerID string) (occupancy.DaySummary, error) {
	entries, err := s.snapshotEntries(ctx, ownerID)
	if err != nil {
		return occupancy.DaySummary{}, err
	}
	return occupancy.Today(entries, s.now(), s.loc), nil
}

// Daily summarizes every day with activity, newest first.
func (s *Service) Daily(ctx context.Context, ownerID string) ([]occupancy.DaySummary, error) {
	entries, err := s.snapshotEntries(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return occupancy.Daily(entries, s.loc), nil
}

func (s *Service) snapshotEntries(ctx context.Context, ownerID string) ([]model.Entry, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	st := s.owner(ownerID)
	st.mu.Lock()
	defer st.mu.Unlock()
	engine, err := s.engineLocked(ctx, ownerID, st)
	if err != nil {
		return nil, err
	}
	return engine.Entries(), nil
}

// ClearEntries wipes the owner's log. This is an administrative reset.
func (s *Service) ClearEntries(ctx context.Context, ownerID string) error {
	if err := checkOwner(ownerID); err != nil {
		return err
	}
	st := s.owner(ownerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.log.ClearAll(ctx, ownerID); err != nil {
		return err
	}
	if st.engine != nil {
		st.engine.Reset(nil)
	}
	if s.recorder != nil {
		s.recorder.OwnerCleared(ownerID)
	}
	s.logger.Warn("entries cleared", zap.String("owner_id", ownerID))
	return nil
}

// Reload drops the cached occupancy and replays it from the store.
func (s *Service) Reload(ctx context.Context, ownerID string) (occupancy.State, error) {
	st := s.owner(ownerID)
	st.mu.Lock()
	st.engine = nil
	st.mu.Unlock()
	return s.Occupancy(ctx, ownerID)
}

// Forget releases the cached state of an owner, e.g. at logout.
func (s *Service) Forget(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, ownerID)
}
