// Package hub is the single fan-out point for meeting events. Delivery
// is in-memory, best-effort, and lifetime-scoped to active subscriber
// connections: a slow subscriber loses its oldest queued events rather
// than blocking the publisher or its peers.
package hub

import (
	"sync"
	"time"
)

// EventType tags a broadcast event.
type EventType string

const (
	EventMeetingJoined    EventType = "meeting.joined"
	EventMeetingEnded     EventType = "meeting.ended"
	EventTranscriptUpdate EventType = "transcript.update"
	EventBriefUpdate      EventType = "brief.update"
	EventQuestionAsked    EventType = "question.asked"
)

// Event is a typed notification for one meeting. Timestamp is assigned
// by the hub at publish time.
type Event struct {
	Type      EventType `json:"type"`
	MeetingID string    `json:"meeting_id"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload,omitempty"`
}

const defaultQueueSize = 64

// Hub fans events out to subscribers keyed by meeting id. Publish order
// is preserved per meeting id; there is no cross-meeting ordering.
type Hub struct {
	mu        sync.RWMutex
	meetings  map[string]*meetingSubs
	queueSize int
	now       func() time.Time
}

type meetingSubs struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is a handle to one subscriber's event feed.
type Subscription struct {
	hub       *Hub
	meetingID string
	ch        chan Event
	closeOnce sync.Once
}

// Options configures a Hub.
type Options struct {
	// QueueSize bounds each subscriber's pending-event queue. When a
	// subscriber falls this far behind, its oldest events are dropped.
	QueueSize int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// New creates a Hub.
func New(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		meetings:  make(map[string]*meetingSubs),
		queueSize: opts.QueueSize,
		now:       opts.Now,
	}
}

// Subscribe registers a new subscriber for meetingID. The subscriber
// receives every event published for that meeting from this moment
// onward; there is no backfill.
func (h *Hub) Subscribe(meetingID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		meetingID: meetingID,
		ch:        make(chan Event, h.queueSize),
	}

	// Membership changes happen under h.mu so that the empty-meeting
	// cleanup in Unsubscribe cannot orphan a concurrent Subscribe.
	h.mu.Lock()
	m := h.meetings[meetingID]
	if m == nil {
		m = &meetingSubs{subs: make(map[*Subscription]struct{})}
		h.meetings[meetingID] = m
	}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	h.mu.Unlock()
	return sub
}

// Events returns the subscriber's feed. The channel is closed when the
// subscription is removed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// MeetingID returns the meeting this subscription is bound to.
func (s *Subscription) MeetingID() string { return s.meetingID }

// Unsubscribe removes a subscriber and closes its feed. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.hub != h {
		return
	}

	h.mu.Lock()
	m := h.meetings[sub.meetingID]
	h.mu.Unlock()
	if m == nil {
		return
	}

	m.mu.Lock()
	delete(m.subs, sub)
	empty := len(m.subs) == 0
	m.mu.Unlock()

	sub.closeOnce.Do(func() { close(sub.ch) })

	if empty {
		h.mu.Lock()
		if cur := h.meetings[sub.meetingID]; cur == m {
			cur.mu.Lock()
			if len(cur.subs) == 0 {
				delete(h.meetings, sub.meetingID)
			}
			cur.mu.Unlock()
		}
		h.mu.Unlock()
	}
}

// Publish stamps ev and delivers it to every current subscriber of
// ev.MeetingID. Publishing to a meeting with zero subscribers is a
// silent no-op. Delivery never blocks: a full subscriber queue drops
// its oldest event to make room.
func (h *Hub) Publish(ev Event) {
	ev.Timestamp = h.now()

	h.mu.RLock()
	m := h.meetings[ev.MeetingID]
	h.mu.RUnlock()
	if m == nil {
		return
	}

	// The per-meeting lock is held across the whole fan-out so that
	// concurrent Publish calls for one meeting cannot interleave and
	// break per-meeting ordering.
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of current subscribers for a
// meeting id.
func (h *Hub) SubscriberCount(meetingID string) int {
	h.mu.RLock()
	m := h.meetings[meetingID]
	h.mu.RUnlock()
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
