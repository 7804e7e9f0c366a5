// Package oracle adapts an OpenAI-compatible chat completions API into
// the two decisions the meeting agent needs: whether a transcript
// fragment warrants a brief update, and how to refine a live question.
package oracle

import (
	"context"

	"github.com/murmurhq/murmur/pkg/core"
	"github.com/murmurhq/murmur/pkg/core/session"
)

// BriefIntent is the oracle's decision to push a brief update,
// extracted from a send_brief_update tool call.
type BriefIntent struct {
	Topic       string
	Summary     string
	ActionItems []core.ActionItem
}

// Oracle makes content decisions for a live meeting.
type Oracle interface {
	// DecideBrief asks whether the new fragment, in light of the
	// current session context, warrants a brief update. A nil intent
	// with nil error means the oracle declined to emit one.
	DecideBrief(ctx context.Context, fragmentText string, snapshot session.Context) (*BriefIntent, error)

	// PlanQuestion refines the user's question text for live delivery.
	// Strategy selection is not the oracle's job.
	PlanQuestion(ctx context.Context, ask core.AskRequest) (string, error)
}
