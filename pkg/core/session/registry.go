package session

import (
	"sync"
	"time"

	"github.com/murmurhq/murmur/pkg/core"
)

const (
	defaultFragmentRetention = 200
	defaultBriefThrottle     = 30 * time.Second
	defaultEndedRetention    = 5 * time.Minute
)

// Options configures a Registry.
type Options struct {
	// FragmentRetention bounds each session's retained transcript
	// history; the oldest fragments are dropped past this length.
	FragmentRetention int
	// BriefThrottle is the minimum interval between two brief emissions
	// for the same meeting.
	BriefThrottle time.Duration
	// EndedRetention is how long an ended session stays queryable before
	// it is garbage-collected.
	EndedRetention time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

type entry struct {
	mu        sync.Mutex
	sess      Session
	fragments []core.Fragment
	gc        *time.Timer
}

// Registry holds one session record per active meeting. Each session
// has its own lock: operations on one meeting never block another.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	retain   int
	throttle time.Duration
	endedTTL time.Duration
	now      func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(opts Options) *Registry {
	if opts.FragmentRetention <= 0 {
		opts.FragmentRetention = defaultFragmentRetention
	}
	if opts.BriefThrottle <= 0 {
		opts.BriefThrottle = defaultBriefThrottle
	}
	if opts.EndedRetention <= 0 {
		opts.EndedRetention = defaultEndedRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		entries:  make(map[string]*entry),
		retain:   opts.FragmentRetention,
		throttle: opts.BriefThrottle,
		endedTTL: opts.EndedRetention,
		now:      opts.Now,
	}
}

// Create registers a new active session for meetingID. It fails with
// ErrDuplicateSession when a live session already exists; an ended
// session still inside its retention window is replaced, keeping the
// one-session-per-meeting invariant.
func (r *Registry) Create(meetingID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old := r.entries[meetingID]; old != nil {
		old.mu.Lock()
		status := old.sess.Status
		if old.gc != nil {
			old.gc.Stop()
		}
		old.mu.Unlock()
		if status != StatusEnded {
			return Session{}, core.ErrDuplicateSession
		}
	}

	e := &entry{sess: Session{
		ID:        meetingID,
		Status:    StatusActive,
		StartedAt: r.now(),
	}}
	r.entries[meetingID] = e
	return e.sess, nil
}

// Get returns a snapshot of the session for meetingID.
func (r *Registry) Get(meetingID string) (Session, bool) {
	e := r.lookup(meetingID)
	if e == nil {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), true
}

// MarkEnded transitions a session to ended and schedules its removal
// after the retention window. Idempotent: ending an already-ended or
// unknown session is a no-op. It returns true only on the first
// transition, so callers emit at most one meeting-ended event.
func (r *Registry) MarkEnded(meetingID string) bool {
	e := r.lookup(meetingID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Status == StatusEnded {
		return false
	}
	e.sess.Status = StatusEnded
	e.sess.EndedAt = r.now()
	e.gc = time.AfterFunc(r.endedTTL, func() { r.remove(meetingID, e) })
	return true
}

// TouchContext applies an atomic read-modify-write of the session's
// Context under the per-session lock, so concurrent fragment arrivals
// for the same meeting cannot lose updates.
func (r *Registry) TouchContext(meetingID string, mutate func(*Context)) error {
	e := r.lookup(meetingID)
	if e == nil {
		return core.ErrUnknownSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Status == StatusEnded {
		return core.ErrUnknownSession
	}
	mutate(&e.sess.Context)
	return nil
}

// Append adds a fragment to the session's retained history, dropping
// the oldest past the retention bound, and returns a Context snapshot
// taken under the same lock. Fragments for ended sessions fail with
// ErrUnknownSession; the registry stops accepting promptly at MarkEnded.
func (r *Registry) Append(frag core.Fragment) (Context, error) {
	e := r.lookup(frag.MeetingID)
	if e == nil {
		return Context{}, core.ErrUnknownSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Status == StatusEnded {
		return Context{}, core.ErrUnknownSession
	}
	e.fragments = append(e.fragments, frag)
	if excess := len(e.fragments) - r.retain; excess > 0 {
		e.fragments = append(e.fragments[:0], e.fragments[excess:]...)
	}
	return e.sess.Context.clone(), nil
}

// Recent returns up to n of the most recent retained fragments, oldest
// first.
func (r *Registry) Recent(meetingID string, n int) ([]core.Fragment, error) {
	e := r.lookup(meetingID)
	if e == nil {
		return nil, core.ErrUnknownSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.fragments) {
		n = len(e.fragments)
	}
	out := make([]core.Fragment, n)
	copy(out, e.fragments[len(e.fragments)-n:])
	return out, nil
}

// TryEmitBrief applies the brief throttle policy. When the session is
// active and no brief was emitted inside the throttle window, it runs
// mutate (if non-nil) on the Context, records the emission time, and
// returns true. Otherwise it returns false with no state change. The
// throttle check and timestamp update are atomic under the per-session
// lock, so two concurrent final fragments cannot both pass.
func (r *Registry) TryEmitBrief(meetingID string, mutate func(*Context)) (bool, error) {
	e := r.lookup(meetingID)
	if e == nil {
		return false, core.ErrUnknownSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Status != StatusActive {
		return false, core.ErrUnknownSession
	}
	now := r.now()
	if !e.sess.LastBriefAt.IsZero() && now.Sub(e.sess.LastBriefAt) < r.throttle {
		return false, nil
	}
	if mutate != nil {
		mutate(&e.sess.Context)
	}
	e.sess.LastBriefAt = now
	return true, nil
}

// Len returns the number of sessions currently held, ended-but-retained
// included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) lookup(meetingID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[meetingID]
}

func (r *Registry) remove(meetingID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[meetingID] == e {
		delete(r.entries, meetingID)
	}
}

func (e *entry) snapshotLocked() Session {
	s := e.sess
	s.Context = e.sess.Context.clone()
	return s
}
