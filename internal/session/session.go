package session

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ppiankov/safetygate/internal/model"
)

// Interaction is one entry of a session's rolling history.
type Interaction struct {
	At          time.Time
	Fingerprint uint64
	Intensity   float64
	Flagged     bool
}

// Session is the mutable state of one continuous user interaction.
// Fields are only touched by the holder of the session lease.
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Start        time.Time `json:"session_start"`
	LastActivity time.Time `json:"last_activity"`

	// Age is copied from the verified caller. Never serialized.
	Age model.AgeBracket `json:"-"`

	// Wellbeing is created lazily by the wellbeing tracker and dropped
	// with the session on eviction.
	Wellbeing *model.WellbeingSnapshot `json:"-"`

	history      *Ring
	fingerprints *lru.Cache[uint64, int]
}

var hintRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

func newSession(userID, hint string, ref model.TemporalReference, historySize, fingerprintCache int) *Session {
	id := hint
	if !hintRe.MatchString(id) {
		id = "sess-" + uuid.NewString()
	}
	if fingerprintCache <= 0 {
		fingerprintCache = DefaultFingerprintCache
	}
	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[uint64, int](fingerprintCache)
	return &Session{
		ID:           id,
		UserID:       userID,
		Start:        ref.At,
		LastActivity: ref.At,
		history:      NewRing(historySize),
		fingerprints: cache,
	}
}

// History returns the bounded rolling interaction history.
func (s *Session) History() *Ring {
	return s.history
}

// SeeFingerprint records a content fingerprint and returns how many times
// it has now been seen within the cache's retention.
func (s *Session) SeeFingerprint(fp uint64) int {
	n, _ := s.fingerprints.Get(fp)
	n++
	s.fingerprints.Add(fp, n)
	return n
}

// Duration returns the session age at the reference.
func (s *Session) Duration(ref model.TemporalReference) time.Duration {
	return ref.Since(s.Start)
}

// Ring is a fixed-capacity interaction buffer. Oldest entries are
// overwritten once full.
type Ring struct {
	items []Interaction
	head  int
	size  int
}

// NewRing creates a ring of the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Ring{items: make([]Interaction, capacity)}
}

// Push appends an interaction, evicting the oldest when full.
func (r *Ring) Push(it Interaction) {
	r.items[r.head] = it
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// Len returns the number of stored interactions.
func (r *Ring) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.items) }

// Items returns stored interactions oldest first.
func (r *Ring) Items() []Interaction {
	out := make([]Interaction, 0, r.size)
	start := (r.head - r.size + len(r.items)) % len(r.items)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

// Last returns the most recent interaction.
func (r *Ring) Last() (Interaction, bool) {
	if r.size == 0 {
		return Interaction{}, false
	}
	return r.items[(r.head-1+len(r.items))%len(r.items)], true
}
