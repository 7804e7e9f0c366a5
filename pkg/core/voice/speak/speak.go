// Package speak turns planned questions into audio and delivers them
// into the meeting.
package speak

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/murmurhq/murmur/pkg/core"
)

// Synthesizer converts text to raw audio.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio in the configured encoding.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Injector delivers synthesized audio into a meeting's media stream.
// How the strategy is honored is up to the implementation.
type Injector interface {
	Inject(ctx context.Context, meetingID string, audio []byte, strategy core.Strategy) error
}

// Speaker composes a Synthesizer and an Injector into the agent's
// question-delivery path.
type Speaker struct {
	synth    Synthesizer
	injector Injector
	logger   *slog.Logger
}

func NewSpeaker(synth Synthesizer, injector Injector, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		synth:    synth,
		injector: injector,
		logger:   logger.With("component", "speaker"),
	}
}

// Speak synthesizes the plan's refined text and injects it following
// the plan's strategy.
func (s *Speaker) Speak(ctx context.Context, meetingID string, plan core.AskPlan) error {
	audio, err := s.synth.Synthesize(ctx, plan.RefinedText)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	s.logger.Debug("speech synthesized",
		"meeting_id", meetingID,
		"provider", s.synth.Name(),
		"strategy", plan.Strategy,
		"audio_bytes", len(audio))

	if err := s.injector.Inject(ctx, meetingID, audio, plan.Strategy); err != nil {
		return fmt.Errorf("inject audio: %w", err)
	}
	return nil
}
