// Package scan turns decoded QR text into entry/exit proposals.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"entrytracker/internal/payload"
)

var (
	// ErrResourceUnavailable means the frame source could not be opened.
	ErrResourceUnavailable = errors.New("scan source unavailable")
	// ErrCancelled is returned when a session ends without an accepted decode.
	ErrCancelled = errors.New("scan cancelled")
	// ErrExhausted is returned by a finite source once every frame was read.
	ErrExhausted = errors.New("no more frames")
)

// Stream yields decoded text from successive frames. Next returns ok=false
// when the current frame holds no code.
type Stream interface {
	Next(ctx context.Context) (text string, ok bool, err error)
	Close() error
}

// Source opens a stream, e.g. a camera feed behind a decoder.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Session is a single scan attempt. It releases the stream exactly once: on the
// first accepted payload, on Cancel, on context cancellation, or on stream error.
type Session struct {
	source Source
	logger *zap.Logger

	mu       sync.Mutex
	stream   Stream
	released bool
	cancel   context.CancelFunc
	rejected int
}

// NewSession prepares a session; nothing is acquired until Run.
func NewSession(source Source, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{source: source, logger: logger}
}

// Run acquires the source and returns the first payload that decodes. Frames
// with invalid payloads are counted and skipped.
func (s *Session) Run(ctx context.Context) (payload.Payload, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return payload.Payload{}, ErrCancelled
	}
	s.cancel = cancel
	s.mu.Unlock()

	stream, err := s.source.Open(ctx)
	if err != nil {
		return payload.Payload{}, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		_ = stream.Close()
		return payload.Payload{}, ErrCancelled
	}
	s.stream = stream
	s.mu.Unlock()
	defer s.release()

	for {
		if ctx.Err() != nil {
			return payload.Payload{}, ErrCancelled
		}
		text, ok, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return payload.Payload{}, ErrCancelled
			}
			return payload.Payload{}, fmt.Errorf("read frame: %w", err)
		}
		if !ok {
			continue
		}
		p, err := payload.Decode(text)
		if err != nil {
			s.mu.Lock()
			s.rejected++
			s.mu.Unlock()
			s.logger.Debug("scan frame rejected", zap.Error(err))
			continue
		}
		return p, nil
	}
}

// Cancel stops the session and releases the source. Safe to call at any time.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.release()
}

// Rejected reports how many frames carried an invalid payload.
func (s *Session) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Released reports whether the source has been released.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Session) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Warn("release scan source", zap.Error(err))
		}
	}
}

// TextSource is a Source over already-decoded frames, used when decoding happens
// client side and the service receives the text.
type TextSource []string

// Open returns a stream over the texts.
func (t TextSource) Open(ctx context.Context) (Stream, error) {
	return &textStream{texts: t}, nil
}

type textStream struct {
	texts []string
	pos   int
}

func (s *textStream) Next(ctx context.Context) (string, bool, error) {
	if s.pos >= len(s.texts) {
		return "", false, ErrExhausted
	}
	text := s.texts[s.pos]
	s.pos++
	return text, text != "", nil
}

func (s *textStream) Close() error { return nil }
