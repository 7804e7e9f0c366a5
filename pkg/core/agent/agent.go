// Package agent orchestrates a live meeting session: it folds
// transcript fragments into session context, decides when to push
// brief updates, and plans live questions on demand.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/murmurhq/murmur/pkg/core"
	"github.com/murmurhq/murmur/pkg/core/hub"
	"github.com/murmurhq/murmur/pkg/core/oracle"
	"github.com/murmurhq/murmur/pkg/core/session"
)

// Speaker delivers a planned question into the meeting as audio.
type Speaker interface {
	Speak(ctx context.Context, meetingID string, plan core.AskPlan) error
}

// Options holds the agent's dependencies. Registry, Oracle and Hub are
// required; Speaker is optional.
type Options struct {
	Registry *session.Registry
	Oracle   oracle.Oracle
	Hub      *hub.Hub
	Speaker  Speaker
	Logger   *slog.Logger
}

// Agent is the per-deployment orchestrator. All methods are safe for
// concurrent use; per-meeting serialization lives in the registry.
type Agent struct {
	registry *session.Registry
	oracle   oracle.Oracle
	hub      *hub.Hub
	speaker  Speaker
	logger   *slog.Logger
}

func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		registry: opts.Registry,
		oracle:   opts.Oracle,
		hub:      opts.Hub,
		speaker:  opts.Speaker,
		logger:   logger.With("component", "agent"),
	}
}

// HandleMeetingStarted registers a session for the meeting and
// announces it. A second start for a live meeting returns
// core.ErrDuplicateSession and changes nothing.
func (a *Agent) HandleMeetingStarted(meetingID string) error {
	sess, err := a.registry.Create(meetingID)
	if err != nil {
		return err
	}
	a.logger.Info("meeting started", "meeting_id", meetingID)
	a.hub.Publish(hub.Event{
		Type:      hub.EventMeetingJoined,
		MeetingID: meetingID,
		Payload:   sess,
	})
	return nil
}

// HandleMeetingEnded marks the session ended. Repeated calls are
// no-ops; the ended event is published exactly once.
func (a *Agent) HandleMeetingEnded(meetingID string) {
	if !a.registry.MarkEnded(meetingID) {
		return
	}
	a.logger.Info("meeting ended", "meeting_id", meetingID)
	a.hub.Publish(hub.Event{
		Type:      hub.EventMeetingEnded,
		MeetingID: meetingID,
	})
}

// HandleFragment ingests one transcript fragment. Every fragment is
// appended to session history and broadcast; only final fragments are
// sent to the oracle. Oracle failures on this path are logged and
// swallowed so a flaky provider cannot stall transcription.
func (a *Agent) HandleFragment(ctx context.Context, frag core.Fragment) error {
	snapshot, err := a.registry.Append(frag)
	if err != nil {
		return err
	}

	a.hub.Publish(hub.Event{
		Type:      hub.EventTranscriptUpdate,
		MeetingID: frag.MeetingID,
		Payload:   frag,
	})

	if !frag.IsFinal {
		return nil
	}

	intent, err := a.oracle.DecideBrief(ctx, frag.Text, snapshot)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("brief decision failed", "meeting_id", frag.MeetingID, "error", err)
		return nil
	}
	if intent == nil {
		return nil
	}

	emitted, err := a.registry.TryEmitBrief(frag.MeetingID, func(c *session.Context) {
		mergeIntent(c, intent)
	})
	if err != nil {
		// Session ended between Append and the emit attempt.
		a.logger.Debug("brief dropped", "meeting_id", frag.MeetingID, "error", err)
		return nil
	}
	if !emitted {
		a.logger.Debug("brief throttled", "meeting_id", frag.MeetingID)
		return nil
	}

	a.hub.Publish(hub.Event{
		Type:      hub.EventBriefUpdate,
		MeetingID: frag.MeetingID,
		Payload: core.Brief{
			Topic:       intent.Topic,
			Summary:     intent.Summary,
			ActionItems: intent.ActionItems,
		},
	})
	return nil
}

// PlanQuestion refines and schedules a live question for an active
// meeting. The strategy comes from the priority mapping, never from
// the oracle. Delivery failures are logged; the plan still stands.
func (a *Agent) PlanQuestion(ctx context.Context, meetingID string, ask core.AskRequest) (core.AskPlan, error) {
	if ask.Text == "" {
		return core.AskPlan{}, fmt.Errorf("ask text is required")
	}
	if !ask.Priority.Valid() {
		return core.AskPlan{}, fmt.Errorf("invalid priority %q", ask.Priority)
	}

	sess, ok := a.registry.Get(meetingID)
	if !ok || sess.Status != session.StatusActive {
		return core.AskPlan{}, core.ErrUnknownSession
	}

	refined, err := a.oracle.PlanQuestion(ctx, ask)
	if err != nil {
		return core.AskPlan{}, err
	}

	strategy, ok := core.StrategyFor(ask.Priority)
	if !ok {
		return core.AskPlan{}, fmt.Errorf("%w: no strategy for priority %q", core.ErrPlanningFailed, ask.Priority)
	}

	plan := core.AskPlan{
		RefinedText:      refined,
		Strategy:         strategy,
		OriginalPriority: ask.Priority,
	}

	a.logger.Info("question planned", "meeting_id", meetingID, "strategy", strategy, "priority", ask.Priority)
	a.hub.Publish(hub.Event{
		Type:      hub.EventQuestionAsked,
		MeetingID: meetingID,
		Payload:   plan,
	})

	if a.speaker != nil {
		if err := a.speaker.Speak(ctx, meetingID, plan); err != nil {
			a.logger.Error("question delivery failed", "meeting_id", meetingID, "error", err)
		}
	}
	return plan, nil
}

// mergeIntent folds a brief intent into session context. The summary
// joins the key point history; action items accumulate.
func mergeIntent(c *session.Context, intent *oracle.BriefIntent) {
	if intent.Topic != "" {
		c.Topic = intent.Topic
	}
	c.KeyPoints = append(c.KeyPoints, intent.Summary)
	c.ActionItems = append(c.ActionItems, intent.ActionItems...)
}
