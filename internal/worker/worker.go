// Package worker consumes entry.recorded messages and keeps the cached
// occupancy snapshot of each owner current.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"entrytracker/internal/attendance"
	"entrytracker/internal/model"
	"entrytracker/internal/occupancy"
	"entrytracker/internal/queue"
	"entrytracker/internal/snapshot"
)

// EntryLister reads an owner's full log.
type EntryLister interface {
	ListEntries(ctx context.Context, ownerID string) ([]model.Entry, error)
}

// SnapshotWriter stores derived snapshots.
type SnapshotWriter interface {
	Put(ctx context.Context, s snapshot.Snapshot) error
}

// Projector replays the log of an owner after each recorded entry and writes
// the folded state. Replaying instead of applying the message keeps the
// snapshot correct when messages are lost, duplicated or reordered.
type Projector struct {
	entries EntryLister
	cache   SnapshotWriter
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a projector. cache may be nil, in which case snapshots are only logged.
func New(entries EntryLister, cache SnapshotWriter, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{entries: entries, cache: cache, logger: logger, now: time.Now}
}

// Run handles messages until the channel closes or ctx is done.
func (p *Projector) Run(ctx context.Context, messages <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Type != attendance.MessageEntryRecorded {
				p.logger.Debug("skipping message", zap.String("type", msg.Type))
				continue
			}
			if _, err := p.Handle(ctx, msg); err != nil {
				p.logger.Error("project entry", zap.Error(err))
			}
		}
	}
}

// Handle refreshes the snapshot of the owner named in msg.
func (p *Projector) Handle(ctx context.Context, msg queue.Message) (snapshot.Snapshot, error) {
	var body attendance.EntryMessage
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	if body.OwnerID == "" {
		return snapshot.Snapshot{}, fmt.Errorf("decode %s: owner_id missing", msg.Type)
	}

	entries, err := p.entries.ListEntries(ctx, body.OwnerID)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("list entries of %s: %w", body.OwnerID, err)
	}
	snap := snapshot.FromState(body.OwnerID, occupancy.Fold(entries), p.now())

	if p.cache != nil {
		if err := p.cache.Put(ctx, snap); err != nil {
			return snapshot.Snapshot{}, err
		}
	}
	p.logger.Info("occupancy snapshot refreshed",
		zap.String("owner_id", snap.OwnerID),
		zap.String("entry_id", body.EntryID),
		zap.Int("current_count", snap.CurrentCount),
	)
	return snap, nil
}
