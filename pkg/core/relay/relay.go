// Package relay bridges a meeting's media websocket and the live
// transcription stream: audio frames flow out to the STT provider,
// transcript fragments flow back into the agent, and planned questions
// are injected as audio in the other direction.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/murmurhq/murmur/pkg/core"
	"github.com/murmurhq/murmur/pkg/core/voice/stt"
)

const defaultTeardownTimeout = 5 * time.Second

// MediaConn is the subset of a websocket connection the relay needs.
// *websocket.Conn satisfies it.
type MediaConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// MediaDialer opens media websocket connections.
type MediaDialer interface {
	DialContext(ctx context.Context, urlStr string) (MediaConn, error)
}

// WSDialer is the production MediaDialer, backed by gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

func (d WSDialer) DialContext(ctx context.Context, urlStr string) (MediaConn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, urlStr, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FragmentHandler receives each transcript fragment produced by the
// relay's transcription leg.
type FragmentHandler func(ctx context.Context, frag core.Fragment) error

// Options configures a Relay.
type Options struct {
	MeetingID  string
	Dialer     MediaDialer
	STT        stt.Provider
	OnFragment FragmentHandler

	// TeardownTimeout bounds how long Run waits for both legs to
	// drain after shutdown starts.
	TeardownTimeout time.Duration

	Logger *slog.Logger
}

// Relay is one meeting's media bridge. A Relay runs at most once:
// Idle -> Connecting -> Streaming -> Closing -> Closed.
type Relay struct {
	meetingID  string
	dialer     MediaDialer
	sttProv    stt.Provider
	onFragment FragmentHandler
	teardown   time.Duration
	logger     *slog.Logger

	state atomic.Int32

	writeMu sync.Mutex
	conn    MediaConn
}

func New(opts Options) *Relay {
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = defaultTeardownTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		meetingID:  opts.MeetingID,
		dialer:     opts.Dialer,
		sttProv:    opts.STT,
		onFragment: opts.OnFragment,
		teardown:   opts.TeardownTimeout,
		logger:     logger.With("component", "relay", "meeting_id", opts.MeetingID),
	}
}

// State reports the relay's current lifecycle state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
}

// Run connects the media socket and the transcription stream and pumps
// both legs until ctx is canceled or a leg fails. It always leaves the
// relay in StateClosed. A context cancelation is a clean shutdown; leg
// failures return a *core.RelayError.
func (r *Relay) Run(ctx context.Context, mediaURL string) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return fmt.Errorf("relay for meeting %s already started", r.meetingID)
	}

	conn, err := r.dialer.DialContext(ctx, mediaURL)
	if err != nil {
		r.setState(StateClosed)
		return &core.RelayError{MeetingID: r.meetingID, Leg: "media", Err: err}
	}

	stream, err := r.sttProv.OpenStream(ctx, stt.StreamOptions{})
	if err != nil {
		conn.Close()
		r.setState(StateClosed)
		return &core.RelayError{MeetingID: r.meetingID, Leg: "transcription", Err: err}
	}

	r.writeMu.Lock()
	r.conn = conn
	r.writeMu.Unlock()
	r.setState(StateStreaming)
	r.logger.Info("relay streaming")

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- r.pumpMedia(conn, stream)
	}()
	go func() {
		defer wg.Done()
		errc <- r.pumpResults(ctx, stream)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	r.setState(StateClosing)
	stream.Close()
	conn.Close()

	// Bounded drain: a stuck leg must not wedge shutdown.
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(r.teardown):
		r.logger.Warn("relay teardown timed out", "timeout", r.teardown)
	}

	r.setState(StateClosed)
	r.logger.Info("relay closed")
	return runErr
}

// pumpMedia forwards inbound binary audio frames to the STT stream.
func (r *Relay) pumpMedia(conn MediaConn, stream stt.Stream) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if r.State() >= StateClosing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return &core.RelayError{MeetingID: r.meetingID, Leg: "media", Err: err}
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := stream.SendAudio(data); err != nil {
			if r.State() >= StateClosing {
				return nil
			}
			return &core.RelayError{MeetingID: r.meetingID, Leg: "transcription", Err: err}
		}
	}
}

// pumpResults turns transcription results into fragments for the
// agent. Handler errors are logged, not fatal: one rejected fragment
// must not kill the meeting's audio.
func (r *Relay) pumpResults(ctx context.Context, stream stt.Stream) error {
	for res := range stream.Results() {
		frag := core.Fragment{
			ID:        uuid.NewString(),
			MeetingID: r.meetingID,
			StartMS:   res.StartMS,
			EndMS:     res.EndMS,
			Speaker:   res.Speaker,
			Text:      res.Text,
			IsFinal:   res.IsFinal,
		}
		if err := r.onFragment(ctx, frag); err != nil {
			r.logger.Warn("fragment rejected", "fragment_id", frag.ID, "error", err)
		}
	}
	if r.State() >= StateClosing || ctx.Err() != nil {
		return nil
	}
	return &core.RelayError{MeetingID: r.meetingID, Leg: "transcription", Err: fmt.Errorf("result stream ended")}
}

// WriteAudio injects synthesized audio into the media socket. Only
// valid while streaming.
func (r *Relay) WriteAudio(data []byte) error {
	if r.State() != StateStreaming {
		return &core.RelayError{MeetingID: r.meetingID, Leg: "media", Err: fmt.Errorf("relay is %s", r.State())}
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.conn == nil {
		return &core.RelayError{MeetingID: r.meetingID, Leg: "media", Err: fmt.Errorf("no media connection")}
	}
	return r.conn.WriteMessage(websocket.BinaryMessage, data)
}
