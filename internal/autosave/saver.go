// Package autosave debounces document writes: a document is written once
// its path has been quiet for the configured delay.
package autosave

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/extt/pkg/markdown"
)

// DefaultDelay is the quiescence period before a pending document is written.
const DefaultDelay = 500 * time.Millisecond

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("autosave: saver closed")

// WriteFunc persists doc at path.
type WriteFunc func(ctx context.Context, path string, doc markdown.Document) error

// ResultFunc is told the outcome of every write.
type ResultFunc func(path string, err error)

// Option configures a Saver.
type Option func(*Saver)

// WithDelay sets the quiescence period. Non-positive values keep the default.
func WithDelay(d time.Duration) Option {
	return func(s *Saver) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithLogger sets the logger used for failed writes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Saver) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithResult registers fn to be called after each write.
func WithResult(fn ResultFunc) Option {
	return func(s *Saver) {
		s.result = fn
	}
}

type pending struct {
	doc   markdown.Document
	seq   uint64
	timer *time.Timer
}

// Saver keeps at most one pending document and one timer per path.
type Saver struct {
	write  WriteFunc
	delay  time.Duration
	logger *slog.Logger
	result ResultFunc

	mu       sync.Mutex
	pending  map[string]*pending
	seq      map[string]uint64      // bumped by every Schedule and Cancel
	locks    map[string]*sync.Mutex // held while a path is being written
	closed   bool
	inflight sync.WaitGroup
}

// New returns a Saver that writes through write.
func New(write WriteFunc, opts ...Option) *Saver {
	s := &Saver{
		write:   write,
		delay:   DefaultDelay,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending: make(map[string]*pending),
		seq:     make(map[string]uint64),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delay returns the configured quiescence period.
func (s *Saver) Delay() time.Duration { return s.delay }

// Schedule replaces any pending document for path with doc and restarts
// the path's timer.
func (s *Saver) Schedule(path string, doc markdown.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if old, ok := s.pending[path]; ok {
		old.timer.Stop()
	}
	s.seq[path]++
	p := &pending{doc: doc, seq: s.seq[path]}
	p.timer = time.AfterFunc(s.delay, func() { s.fire(path, p) })
	s.pending[path] = p
	return nil
}

// Pending reports whether a write for path is waiting on its timer.
func (s *Saver) Pending(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[path]
	return ok
}

// Cancel discards the pending document for path and waits for a write of
// path that is already running. Callers writing path themselves call it
// first so that no older document lands after theirs.
func (s *Saver) Cancel(path string) {
	s.mu.Lock()
	if p, ok := s.pending[path]; ok {
		p.timer.Stop()
		delete(s.pending, path)
	}
	s.seq[path]++
	l := s.lockLocked(path)
	s.mu.Unlock()

	l.Lock()
	l.Unlock() //nolint:staticcheck // waits for the running write
}

func (s *Saver) fire(path string, p *pending) {
	s.mu.Lock()
	if s.pending[path] != p {
		// Superseded by a later Schedule or taken by Flush.
		s.mu.Unlock()
		return
	}
	delete(s.pending, path)
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()
	_ = s.save(context.Background(), path, p)
}

func (s *Saver) lockLocked(path string) *sync.Mutex {
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// save writes p while holding the path lock. A document that is no longer
// the latest for its path is skipped.
func (s *Saver) save(ctx context.Context, path string, p *pending) error {
	s.mu.Lock()
	l := s.lockLocked(path)
	s.mu.Unlock()

	l.Lock()
	s.mu.Lock()
	stale := s.seq[path] != p.seq
	s.mu.Unlock()
	if stale {
		l.Unlock()
		s.logger.Debug("autosave: superseded", slog.String("path", path))
		return nil
	}
	err := s.write(ctx, path, p.doc)
	l.Unlock()

	if err != nil {
		s.logger.Error("autosave: write failed", slog.String("path", path), slog.String("error", err.Error()))
	} else {
		s.logger.Debug("autosave: written", slog.String("path", path))
	}
	if s.result != nil {
		s.result(path, err)
	}
	return err
}

// take stops every timer and returns the pending documents.
func (s *Saver) take() map[string]*pending {
	out := make(map[string]*pending, len(s.pending))
	for path, p := range s.pending {
		p.timer.Stop()
		out[path] = p
	}
	clear(s.pending)
	return out
}

// Flush writes every pending document now. It stops early when ctx is done.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	docs := s.take()
	s.mu.Unlock()
	return s.saveAll(ctx, docs)
}

func (s *Saver) saveAll(ctx context.Context, docs map[string]*pending) error {
	var errs []error
	for path, p := range docs {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.save(ctx, path, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending documents, waits for writes already started and
// rejects further Schedule calls.
func (s *Saver) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	docs := s.take()
	s.mu.Unlock()

	err := s.saveAll(ctx, docs)
	s.inflight.Wait()
	return err
}
