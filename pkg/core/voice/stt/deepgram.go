package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider implements the STT Provider interface using
// Deepgram's live transcription WebSocket API.
type DeepgramProvider struct {
	apiKey  string
	baseURL string
}

// NewDeepgram creates a new Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: deepgramListenURL}
}

// NewDeepgramWithURL creates a provider pointed at a custom endpoint.
func NewDeepgramWithURL(apiKey, baseURL string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: baseURL}
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string {
	return "deepgram"
}

// OpenStream opens a live transcription WebSocket session.
func (d *DeepgramProvider) OpenStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse listen URL: %w", err)
	}

	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Encoding == "" {
		opts.Encoding = "linear16"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}

	q := u.Query()
	q.Set("model", opts.Model)
	q.Set("language", opts.Language)
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:    conn,
		results: make(chan Result, 100),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go s.readLoop()

	return s, nil
}

type deepgramStream struct {
	conn    *websocket.Conn
	results chan Result
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *deepgramStream) readLoop() {
	defer func() {
		close(s.results)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		res, ok := parseListenMessage(data)
		if !ok {
			continue
		}

		select {
		case s.results <- res:
		case <-s.ctx.Done():
			return
		}
	}
}

type listenMessage struct {
	Type     string  `json:"type"` // "Results", "Metadata", "SpeechStarted", "UtteranceEnd"
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`    // seconds from stream start
	Duration float64 `json:"duration"` // seconds
	Channel  struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word    string  `json:"word"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
				Speaker *int    `json:"speaker,omitempty"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseListenMessage converts one Deepgram message into a Result.
// Non-transcript messages and empty transcripts report ok=false.
func parseListenMessage(data []byte) (Result, bool) {
	var msg listenMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Result{}, false
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return Result{}, false
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return Result{}, false
	}

	res := Result{
		Text:    alt.Transcript,
		IsFinal: msg.IsFinal,
		StartMS: int64(msg.Start * 1000),
		EndMS:   int64((msg.Start + msg.Duration) * 1000),
	}
	if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
		res.Speaker = strconv.Itoa(*alt.Words[0].Speaker)
	}
	return res, true
}

// SendAudio sends raw audio in the negotiated encoding.
func (s *deepgramStream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *deepgramStream) Results() <-chan Result {
	return s.results
}

func (s *deepgramStream) Done() <-chan struct{} {
	return s.done
}

// Close flushes remaining audio with a CloseStream control message and
// closes the connection. Safe to call more than once.
func (s *deepgramStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
