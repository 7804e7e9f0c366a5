package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/murmurhq/murmur/pkg/core"
	"github.com/murmurhq/murmur/pkg/core/voice/stt"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Dialer          MediaDialer
	STT             stt.Provider
	OnFragment      FragmentHandler
	TeardownTimeout time.Duration
	Logger          *slog.Logger
}

// Manager runs one relay per meeting. It implements the audio
// injection interface the speaker needs, so planned questions flow
// back out through the same media socket audio came in on.
type Manager struct {
	opts    ManagerOptions
	tracker *Tracker
	logger  *slog.Logger

	mu     sync.Mutex
	relays map[string]*Relay
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:    opts,
		tracker: NewTracker(),
		logger:  logger.With("component", "relay_manager"),
		relays:  make(map[string]*Relay),
	}
}

// Start launches a relay for the meeting. The relay runs until Stop,
// Shutdown, or a leg failure. Starting a meeting that already has a
// running relay is an error.
func (m *Manager) Start(ctx context.Context, meetingID, mediaURL string) error {
	r := New(Options{
		MeetingID:       meetingID,
		Dialer:          m.opts.Dialer,
		STT:             m.opts.STT,
		OnFragment:      m.opts.OnFragment,
		TeardownTimeout: m.opts.TeardownTimeout,
		Logger:          m.opts.Logger,
	})

	m.mu.Lock()
	if _, exists := m.relays[meetingID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("relay already running for meeting %s", meetingID)
	}
	m.relays[meetingID] = r
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unregister := m.tracker.Register(meetingID, Handle{Cancel: cancel})

	go func() {
		defer func() {
			cancel()
			m.mu.Lock()
			if m.relays[meetingID] == r {
				delete(m.relays, meetingID)
			}
			m.mu.Unlock()
			unregister()
		}()

		if err := r.Run(runCtx, mediaURL); err != nil {
			m.logger.Error("relay failed", "meeting_id", meetingID, "error", err)
		}
	}()
	return nil
}

// Stop cancels the meeting's relay, if one is running.
func (m *Manager) Stop(meetingID string) {
	m.mu.Lock()
	_, exists := m.relays[meetingID]
	m.mu.Unlock()
	if !exists {
		return
	}

	m.tracker.mu.Lock()
	entry := m.tracker.relays[meetingID]
	m.tracker.mu.Unlock()
	if entry != nil && entry.handle.Cancel != nil {
		entry.handle.Cancel()
	}
}

// Inject writes synthesized audio into the meeting's media socket. The
// strategy is recorded for the operator; delivery itself is immediate
// since the meeting platform owns floor control.
func (m *Manager) Inject(ctx context.Context, meetingID string, audio []byte, strategy core.Strategy) error {
	m.mu.Lock()
	r := m.relays[meetingID]
	m.mu.Unlock()
	if r == nil {
		return core.ErrUnknownSession
	}

	m.logger.Info("injecting audio", "meeting_id", meetingID, "strategy", strategy, "audio_bytes", len(audio))
	return r.WriteAudio(audio)
}

// Active reports whether the meeting currently has a relay.
func (m *Manager) Active(meetingID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.relays[meetingID]
	return ok
}

// Count returns the number of running relays.
func (m *Manager) Count() int {
	return m.tracker.Count()
}

// Shutdown cancels every relay and waits, bounded by ctx, for their
// teardowns to finish. Reports whether the drain completed.
func (m *Manager) Shutdown(ctx context.Context) bool {
	canceled := m.tracker.CancelAll()
	if canceled > 0 {
		m.logger.Info("stopping relays", "count", canceled)
	}
	return m.tracker.Wait(ctx)
}
