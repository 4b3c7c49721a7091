package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entrytracker/internal/model"
	"entrytracker/internal/occupancy"
	"entrytracker/internal/payload"
)

func TestClassifyTogglesOnPresence(t *testing.T) {
	p := payload.Payload{ID: "p1", Name: "Alice"}

	st := occupancy.NewState()
	got := Classify(p, st)
	assert.Equal(t, model.EntryTypeEntry, got.Type)
	assert.False(t, got.Inside)
	assert.Equal(t, "p1", got.Person.ID)

	st = occupancy.Fold([]model.Entry{{
		ID: "e1", Type: model.EntryTypeEntry, Timestamp: time.Now(), Seq: 1,
		Person: &model.PersonSnapshot{ID: "p1", Name: "Alice"},
	}})
	got = Classify(p, st)
	assert.Equal(t, model.EntryTypeExit, got.Type)
	assert.True(t, got.Inside)
}

func TestProposalOverride(t *testing.T) {
	prop := Proposal{Type: model.EntryTypeEntry}
	assert.Equal(t, model.EntryTypeExit, prop.Override(model.EntryTypeExit).Type)
	assert.Equal(t, model.EntryTypeEntry, prop.Override("sideways").Type)
}

// fakeStream emits frames from a channel and records Close calls.
type fakeStream struct {
	frames chan string
	mu     sync.Mutex
	closed int
}

func (f *fakeStream) Next(ctx context.Context) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case s := <-f.frames:
		return s, s != "", nil
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSource struct {
	stream *fakeStream
	err    error
}

func (f *fakeSource) Open(ctx context.Context) (Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func TestSessionReleasesAfterFirstDecode(t *testing.T) {
	stream := &fakeStream{frames: make(chan string, 4)}
	stream.frames <- ""
	stream.frames <- "garbage"
	stream.frames <- `{"id":"p1","name":"Alice"}`
	stream.frames <- `{"id":"p2","name":"Bob"}`

	s := NewSession(&fakeSource{stream: stream}, nil)
	got, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, 1, s.Rejected())
	assert.True(t, s.Released())
	assert.Equal(t, 1, stream.closeCount())

	// Cancelling afterwards does not release twice.
	s.Cancel()
	assert.Equal(t, 1, stream.closeCount())
}

func TestSessionCancelReleasesWithoutPayload(t *testing.T) {
	stream := &fakeStream{frames: make(chan string)}
	s := NewSession(&fakeSource{stream: stream}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stream != nil
	}, time.Second, 5*time.Millisecond)

	s.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("session did not stop after cancel")
	}
	assert.Equal(t, 1, stream.closeCount())
}

func TestSessionContextCancel(t *testing.T) {
	stream := &fakeStream{frames: make(chan string)}
	s := NewSession(&fakeSource{stream: stream}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, stream.closeCount())
}

func TestSessionSourceUnavailable(t *testing.T) {
	s := NewSession(&fakeSource{err: errors.New("permission denied")}, nil)
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestSessionCancelledBeforeRun(t *testing.T) {
	stream := &fakeStream{frames: make(chan string, 1)}
	s := NewSession(&fakeSource{stream: stream}, nil)
	s.Cancel()
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, stream.closeCount())
}

func TestTextSource(t *testing.T) {
	s := NewSession(TextSource{"nope", `{"id":"p9","name":"Zed"}`}, nil)
	got, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Zed", got.Name)

	s = NewSession(TextSource{"nope"}, nil)
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, s.Rejected())
	assert.True(t, s.Released())
}
