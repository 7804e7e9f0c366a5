// Package core defines the shared domain types for the live meeting
// assistant: transcript fragments, briefs, ask requests, and the
// taxonomy of pipeline errors.
package core

// Priority is the urgency a user attaches to a submitted question.
type Priority string

const (
	PriorityPolite    Priority = "polite"
	PriorityInterrupt Priority = "interrupt"
	PriorityNextTurn  Priority = "next-turn"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityPolite, PriorityInterrupt, PriorityNextTurn:
		return true
	}
	return false
}

// Strategy is the speaking strategy resolved for a planned question.
type Strategy string

const (
	StrategyRaiseHand Strategy = "raise-hand"
	StrategyInterrupt Strategy = "interrupt"
	StrategyWaitPause Strategy = "wait-pause"
)

// StrategyFor maps a question priority to its speaking strategy. The
// mapping is fixed and local; it is never influenced by model output.
func StrategyFor(p Priority) (Strategy, bool) {
	switch p {
	case PriorityPolite:
		return StrategyRaiseHand, true
	case PriorityInterrupt:
		return StrategyInterrupt, true
	case PriorityNextTurn:
		return StrategyWaitPause, true
	}
	return "", false
}

// Fragment is a unit of transcribed speech for one meeting. Fragments
// are immutable once created. Interim fragments exist only for
// low-latency display; final fragments drive decisioning and are
// retained in context-visible history.
type Fragment struct {
	ID        string `json:"id"`
	MeetingID string `json:"meeting_id"`
	StartMS   int64  `json:"ts_start"`
	EndMS     int64  `json:"ts_end"`
	Speaker   string `json:"speaker,omitempty"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
}

// ActionItem is a single open item surfaced in a brief or tracked in
// session context.
type ActionItem struct {
	Owner string `json:"owner,omitempty"`
	Item  string `json:"item"`
}

// Brief is a condensed, throttled summary update surfaced to the user.
// Never mutated after creation.
type Brief struct {
	Topic       string       `json:"topic,omitempty"`
	Summary     string       `json:"summary"`
	ActionItems []ActionItem `json:"action_items,omitempty"`
}

// AskRequest is a user-submitted question to be asked in the meeting.
type AskRequest struct {
	Text     string   `json:"text"`
	Priority Priority `json:"priority"`
}

// AskPlan is the resolved strategy and refined text for an AskRequest.
type AskPlan struct {
	RefinedText      string   `json:"refined_text"`
	Strategy         Strategy `json:"strategy"`
	OriginalPriority Priority `json:"original_priority"`
}
