// Package session is the keyed registry of per-user session state.
// Each session is guarded by its own one-slot lease so that requests
// from the same user are serialized while different users never contend.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/model"
)

const (
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultHistorySize      = 32
	DefaultFingerprintCache = 64
)

// ErrStoreClosed is returned by Acquire after Close.
var ErrStoreClosed = errors.New("session: store closed")

// Config tunes the store.
type Config struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	HistorySize      int           `yaml:"history_size"`
	FingerprintCache int           `yaml:"fingerprint_cache"`
}

type entry struct {
	lease chan struct{}
	sess  *Session
	refs  int
}

// Store maps user IDs to sessions.
type Store struct {
	cfg    Config
	log    *zap.Logger
	mu     sync.Mutex
	byUser map[string]*entry
	closed bool
}

// NewStore creates an empty store.
func NewStore(cfg Config, log *zap.Logger) *Store {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.FingerprintCache <= 0 {
		cfg.FingerprintCache = DefaultFingerprintCache
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{cfg: cfg, log: log, byUser: make(map[string]*entry)}
}

// Release ends a session lease. Safe to call more than once.
type Release func()

// Acquire returns the user's session, creating it on first use, and holds
// its lease until the returned Release is called. Waiting for the lease
// honours ctx. The session is touched with ref.
func (s *Store) Acquire(ctx context.Context, userID, hint string, ref model.TemporalReference) (*Session, Release, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrStoreClosed
	}
	e := s.entryLocked(userID, hint, ref)
	e.refs++
	s.mu.Unlock()

	select {
	case e.lease <- struct{}{}:
	case <-ctx.Done():
		s.mu.Lock()
		e.refs--
		s.mu.Unlock()
		return nil, nil, model.NewError(model.KindTimeout, "session.acquire", ctx.Err())
	}

	s.Touch(e.sess, ref)

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.lease
			s.mu.Lock()
			e.refs--
			s.mu.Unlock()
		})
	}
	return e.sess, release, nil
}

// GetOrCreate returns the user's session without taking its lease.
// Callers that mutate the session must use Acquire instead.
func (s *Store) GetOrCreate(userID string, ref model.TemporalReference) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryLocked(userID, "", ref).sess
}

func (s *Store) entryLocked(userID, hint string, ref model.TemporalReference) *entry {
	e, ok := s.byUser[userID]
	if !ok {
		e = &entry{
			lease: make(chan struct{}, 1),
			sess:  newSession(userID, hint, ref, s.cfg.HistorySize, s.cfg.FingerprintCache),
		}
		s.byUser[userID] = e
		s.log.Debug("session.created", zap.String("session_id", e.sess.ID))
	}
	return e
}

// Touch records activity at the reference time. Activity never moves
// backwards.
func (s *Store) Touch(sess *Session, ref model.TemporalReference) {
	if ref.At.After(sess.LastActivity) {
		sess.LastActivity = ref.At
	}
}

// EvictExpired removes sessions idle for at least the idle timeout.
// Leased sessions are skipped. Returns the number evicted.
func (s *Store) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for user, e := range s.byUser {
		if e.refs > 0 {
			continue
		}
		if now.Sub(e.sess.LastActivity) >= s.cfg.IdleTimeout {
			delete(s.byUser, user)
			evicted++
		}
	}
	if evicted > 0 {
		s.log.Debug("session.evicted", zap.Int("count", evicted), zap.Int("remaining", len(s.byUser)))
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}

// Close rejects further Acquire calls.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
