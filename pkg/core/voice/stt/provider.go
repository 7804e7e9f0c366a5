// Package stt provides live speech-to-text streaming.
package stt

import "context"

// Provider is the interface for streaming speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// OpenStream opens a live transcription stream. Audio is sent
	// incrementally with SendAudio; results arrive on Results.
	OpenStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Stream is one live transcription session.
type Stream interface {
	// SendAudio sends a chunk of raw audio in the negotiated encoding.
	SendAudio(data []byte) error

	// Results returns the channel of transcription results. It is
	// closed when the stream ends.
	Results() <-chan Result

	// Done is closed when the stream ends for any reason.
	Done() <-chan struct{}

	// Close flushes remaining audio and tears the stream down.
	Close() error
}

// StreamOptions configures a live transcription stream.
type StreamOptions struct {
	Model      string // provider-specific model (default "nova-2")
	Language   string // ISO language code (default "en")
	Encoding   string // raw audio encoding (default "linear16")
	SampleRate int    // audio sample rate in Hz (default 16000)
}

// Result is one transcription result, interim or final.
type Result struct {
	Text    string
	Speaker string // diarized speaker label, empty when unknown
	IsFinal bool
	StartMS int64 // segment start offset in the audio, milliseconds
	EndMS   int64
}
