package relay

import (
	"context"
	"sync"
)

// Handle is the control surface a running relay registers with the
// Tracker.
type Handle struct {
	Cancel func()
}

// Tracker keeps cancel handles for running relays so shutdown can stop
// them all and wait, bounded by a context, for the drains to finish.
type Tracker struct {
	mu     sync.Mutex
	relays map[string]*trackedRelay
	wg     sync.WaitGroup
}

type trackedRelay struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		relays: make(map[string]*trackedRelay),
	}
}

// Register tracks a relay under meetingID. Registering over an
// existing entry unregisters the old one first. The returned func
// unregisters; calling it more than once is safe.
func (t *Tracker) Register(meetingID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedRelay{handle: h}

	t.mu.Lock()
	if t.relays == nil {
		t.relays = make(map[string]*trackedRelay)
	}
	old := t.relays[meetingID]
	t.relays[meetingID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(meetingID, old)
	}

	return func() { t.unregister(meetingID, entry) }
}

func (t *Tracker) unregister(meetingID string, entry *trackedRelay) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.relays != nil && t.relays[meetingID] == entry {
			delete(t.relays, meetingID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.relays)
}

// CancelAll invokes every tracked relay's cancel handle.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.relays {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every tracked relay has unregistered or ctx
// expires. Reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
