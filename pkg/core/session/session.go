// Package session owns all per-meeting state. The Registry is the
// single source of truth: no other component holds a mutable reference
// to a Session outside a scoped, locked accessor.
package session

import (
	"time"

	"github.com/murmurhq/murmur/pkg/core"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
)

// Context is the rolling per-meeting context mutated as the meeting
// progresses.
type Context struct {
	Topic       string            `json:"topic"`
	KeyPoints   []string          `json:"key_points"`
	ActionItems []core.ActionItem `json:"action_items"`
}

// clone returns a deep copy so snapshots never alias registry state.
func (c Context) clone() Context {
	out := Context{Topic: c.Topic}
	if len(c.KeyPoints) > 0 {
		out.KeyPoints = append([]string(nil), c.KeyPoints...)
	}
	if len(c.ActionItems) > 0 {
		out.ActionItems = append([]core.ActionItem(nil), c.ActionItems...)
	}
	return out
}

// Session is a point-in-time snapshot of one meeting's state. Values
// returned by the Registry are copies; mutating them has no effect on
// registry state.
type Session struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitzero"`
	Context     Context   `json:"context"`
	LastBriefAt time.Time `json:"last_brief_at,omitzero"` // zero until first brief
}
