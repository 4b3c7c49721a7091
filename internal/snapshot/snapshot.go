// Package snapshot caches each owner's derived occupancy in Redis so that
// displays and other readers need not replay the log.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"entrytracker/internal/occupancy"
)

// ErrMissing is returned when no snapshot is cached for the owner.
var ErrMissing = errors.New("snapshot missing")

// Snapshot is the cached view of one owner's occupancy.
type Snapshot struct {
	OwnerID      string    `json:"owner_id"`
	InsideIDs    []string  `json:"inside_ids"`
	Anonymous    int       `json:"anonymous"`
	CurrentCount int       `json:"current_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FromState builds a snapshot of st.
func FromState(ownerID string, st occupancy.State, at time.Time) Snapshot {
	return Snapshot{
		OwnerID:      ownerID,
		InsideIDs:    st.InsideIDs(),
		Anonymous:    st.Anonymous,
		CurrentCount: st.Count(),
		UpdatedAt:    at.UTC(),
	}
}

// Cache reads and writes snapshots under prefix+owner.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a cache. A zero ttl keeps snapshots until overwritten.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: "entrytracker:occupancy:", ttl: ttl}
}

func (c *Cache) key(ownerID string) string { return c.prefix + ownerID }

// Put stores s, replacing any previous snapshot of the owner.
func (c *Cache) Put(ctx context.Context, s Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(s.OwnerID), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("store snapshot for %s: %w", s.OwnerID, err)
	}
	return nil
}

// Get returns the cached snapshot of the owner.
func (c *Cache) Get(ctx context.Context, ownerID string) (Snapshot, error) {
	raw, err := c.client.Get(ctx, c.key(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrMissing
	}
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot for %s: %w", ownerID, err)
	}
	return s, nil
}

// Delete drops the owner's snapshot.
func (c *Cache) Delete(ctx context.Context, ownerID string) error {
	return c.client.Del(ctx, c.key(ownerID)).Err()
}
