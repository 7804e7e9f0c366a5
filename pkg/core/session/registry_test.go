package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/murmurhq/murmur/pkg/core"
)

// fakeClock is a manually advanced clock for throttle tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(Options{})

	s, err := r.Create("m1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Status != StatusActive || s.StartedAt.IsZero() {
		t.Fatalf("unexpected session: %+v", s)
	}

	got, ok := r.Get("m1")
	if !ok || got.ID != "m1" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if _, ok := r.Get("m2"); ok {
		t.Fatalf("Get should miss for unknown meeting")
	}
}

func TestCreateDuplicateActiveFails(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create("m1"); !errors.Is(err, core.ErrDuplicateSession) {
		t.Fatalf("second Create err = %v, want ErrDuplicateSession", err)
	}
}

func TestCreateReplacesEndedSession(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.MarkEnded("m1")
	s, err := r.Create("m1")
	if err != nil {
		t.Fatalf("Create after end: %v", err)
	}
	if s.Status != StatusActive {
		t.Fatalf("status = %v, want active", s.Status)
	}
}

func TestMarkEndedIdempotent(t *testing.T) {
	r := NewRegistry(Options{})
	if r.MarkEnded("nope") {
		t.Fatalf("ending unknown session reported a transition")
	}
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !r.MarkEnded("m1") {
		t.Fatalf("first MarkEnded should report the transition")
	}
	if r.MarkEnded("m1") {
		t.Fatalf("second MarkEnded should be a no-op")
	}
	got, ok := r.Get("m1")
	if !ok || got.Status != StatusEnded || got.EndedAt.IsZero() {
		t.Fatalf("ended session snapshot: %+v, %v", got, ok)
	}
}

func TestEndedSessionRejectsFragments(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.MarkEnded("m1")
	if _, err := r.Append(core.Fragment{MeetingID: "m1", Text: "late"}); !errors.Is(err, core.ErrUnknownSession) {
		t.Fatalf("Append after end err = %v, want ErrUnknownSession", err)
	}
}

func TestEndedSessionGarbageCollected(t *testing.T) {
	r := NewRegistry(Options{EndedRetention: 5 * time.Millisecond})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.MarkEnded("m1")

	deadline := time.Now().Add(time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ended session was not garbage-collected")
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := r.Get("m1"); ok {
		t.Fatalf("Get should miss after garbage collection")
	}
}

func TestAppendBoundsHistory(t *testing.T) {
	r := NewRegistry(Options{FragmentRetention: 3})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 5; i++ {
		frag := core.Fragment{ID: fmt.Sprintf("f%d", i), MeetingID: "m1", Text: "x", IsFinal: true}
		if _, err := r.Append(frag); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	got, err := r.Recent("m1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("retained %d fragments, want 3", len(got))
	}
	if got[0].ID != "f2" || got[2].ID != "f4" {
		t.Fatalf("wrong fragments retained: %v .. %v", got[0].ID, got[2].ID)
	}
}

func TestRecentMostRecentN(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := r.Append(core.Fragment{ID: fmt.Sprintf("f%d", i), MeetingID: "m1"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := r.Recent("m1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "f2" || got[1].ID != "f3" {
		t.Fatalf("Recent(2) = %+v", got)
	}
}

func TestTouchContextConcurrentUpdatesAreNotLost(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := r.TouchContext("m1", func(c *Context) {
					c.KeyPoints = append(c.KeyPoints, "p")
				})
				if err != nil {
					t.Errorf("TouchContext: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, _ := r.Get("m1")
	if len(got.Context.KeyPoints) != workers*perWorker {
		t.Fatalf("key points = %d, want %d", len(got.Context.KeyPoints), workers*perWorker)
	}
}

func TestTryEmitBriefThrottleWindow(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(Options{BriefThrottle: 30 * time.Second, Now: clock.Now})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := r.TryEmitBrief("m1", nil)
	if err != nil || !ok {
		t.Fatalf("first emit: ok=%v err=%v", ok, err)
	}

	clock.Advance(5 * time.Second)
	ok, err = r.TryEmitBrief("m1", nil)
	if err != nil || ok {
		t.Fatalf("emit inside window: ok=%v err=%v, want throttled", ok, err)
	}

	clock.Advance(26 * time.Second) // t=31s since first emission
	ok, err = r.TryEmitBrief("m1", nil)
	if err != nil || !ok {
		t.Fatalf("emit after window: ok=%v err=%v", ok, err)
	}
}

func TestTryEmitBriefConcurrentOnlyOnePasses(t *testing.T) {
	r := NewRegistry(Options{BriefThrottle: time.Minute})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 16
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.TryEmitBrief("m1", nil)
			if err != nil {
				t.Errorf("TryEmitBrief: %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	passed := 0
	for ok := range results {
		if ok {
			passed++
		}
	}
	if passed != 1 {
		t.Fatalf("%d concurrent emissions passed the throttle, want exactly 1", passed)
	}
}

func TestTryEmitBriefRequiresActiveSession(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.TryEmitBrief("nope", nil); !errors.Is(err, core.ErrUnknownSession) {
		t.Fatalf("unknown session err = %v", err)
	}
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.MarkEnded("m1")
	if _, err := r.TryEmitBrief("m1", nil); !errors.Is(err, core.ErrUnknownSession) {
		t.Fatalf("ended session err = %v", err)
	}
}

func TestSnapshotsDoNotAliasRegistryState(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.TouchContext("m1", func(c *Context) {
		c.Topic = "budget"
		c.KeyPoints = []string{"a"}
	}); err != nil {
		t.Fatalf("TouchContext: %v", err)
	}

	snap, _ := r.Get("m1")
	snap.Context.KeyPoints[0] = "mutated"
	snap.Context.Topic = "mutated"

	got, _ := r.Get("m1")
	if got.Context.Topic != "budget" || got.Context.KeyPoints[0] != "a" {
		t.Fatalf("registry state was mutated through a snapshot: %+v", got.Context)
	}
}
