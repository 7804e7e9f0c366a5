package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/murmurhq/murmur/pkg/core"
	"github.com/murmurhq/murmur/pkg/core/session"
)

const (
	toolSendBriefUpdate  = "send_brief_update"
	toolPlanLiveQuestion = "plan_live_question"

	// Schema minimums enforced locally because not every provider
	// honors minLength in tool parameter schemas.
	minSummaryLen = 10
	minAskTextLen = 3
)

const briefSystemPrompt = `You are a real-time meeting assistant. You consume streaming transcripts and produce concise, actionable briefs for the user. Operate via the provided tools.

Constraints:
- Prioritize accuracy and brevity for live briefs: 2-4 sentences unless a significant change demands more.
- Avoid hallucination; quote or paraphrase only from the transcript and context.
- Use send_brief_update when a topic changes or a notable decision or action item arises.
- Never include secrets, PII, or private info in briefs.`

const planSystemPrompt = `You are planning a question to be asked in a live meeting. Refine the user's question for clarity, tone, and appropriateness. Consider the priority level when planning.`

// ChatOracle is an Oracle backed by an OpenAI-compatible
// /v1/chat/completions endpoint.
type ChatOracle struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// ChatOptions configures a ChatOracle.
type ChatOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewChatOracle creates a ChatOracle. Timeout bounds each completion
// call and maps expirations to core.ErrOracleTimeout.
func NewChatOracle(opts ChatOptions) *ChatOracle {
	if opts.Model == "" {
		opts.Model = "gpt-4-turbo-preview"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatOracle{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.With("component", "oracle"),
	}
}

// Wire types for the chat completions API.

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Tools      []tool        `json:"tools,omitempty"`
	ToolChoice any           `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message      *chatMessage `json:"message"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type briefArgs struct {
	Topic       string `json:"topic"`
	Summary     string `json:"summary"`
	ActionItems []struct {
		Owner string `json:"owner"`
		Item  string `json:"item"`
	} `json:"actionItems"`
}

type planArgs struct {
	Text     string `json:"text"`
	Priority string `json:"priority"`
}

func briefTools() []tool {
	return []tool{{
		Type: "function",
		Function: toolFunction{
			Name:        toolSendBriefUpdate,
			Description: "Push a brief update to the user about the meeting state.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic":   map[string]any{"type": "string"},
					"summary": map[string]any{"type": "string", "minLength": minSummaryLen},
					"actionItems": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"owner": map[string]any{"type": "string"},
								"item":  map[string]any{"type": "string"},
							},
							"required": []string{"item"},
						},
					},
				},
				"required": []string{"summary"},
			},
		},
	}}
}

func planTool() tool {
	return tool{
		Type: "function",
		Function: toolFunction{
			Name:        toolPlanLiveQuestion,
			Description: "Plan and refine a question to be asked in the meeting.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":     map[string]any{"type": "string", "minLength": minAskTextLen},
					"priority": map[string]any{"type": "string", "enum": []string{"polite", "interrupt", "next-turn"}},
				},
				"required": []string{"text"},
			},
		},
	}
}

// DecideBrief implements Oracle. The model sees the new fragment plus a
// JSON rendering of the session context and may call send_brief_update.
// Declining (no tool call) is not an error.
func (o *ChatOracle) DecideBrief(ctx context.Context, fragmentText string, snapshot session.Context) (*BriefIntent, error) {
	contextJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal session context: %w", err)
	}

	req := &chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: briefSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("New transcript segment: %q\n\nCurrent context: %s", fragmentText, contextJSON)},
		},
		Tools:      briefTools(),
		ToolChoice: "auto",
	}

	resp, err := o.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	tc := firstToolCall(resp, toolSendBriefUpdate)
	if tc == nil {
		return nil, nil
	}

	var args briefArgs
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return nil, fmt.Errorf("%w: %s arguments: %v", core.ErrOracleMalformed, toolSendBriefUpdate, err)
	}
	if len(args.Summary) < minSummaryLen {
		return nil, fmt.Errorf("%w: summary shorter than %d characters", core.ErrOracleMalformed, minSummaryLen)
	}

	intent := &BriefIntent{Topic: args.Topic, Summary: args.Summary}
	for _, ai := range args.ActionItems {
		if ai.Item == "" {
			continue
		}
		intent.ActionItems = append(intent.ActionItems, core.ActionItem{Owner: ai.Owner, Item: ai.Item})
	}
	return intent, nil
}

// PlanQuestion implements Oracle. The plan_live_question tool call is
// forced; a response without one cannot produce a plan.
func (o *ChatOracle) PlanQuestion(ctx context.Context, ask core.AskRequest) (string, error) {
	req := &chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Plan this question: %q with priority: %s", ask.Text, ask.Priority)},
		},
		Tools: []tool{planTool()},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]any{"name": toolPlanLiveQuestion},
		},
	}

	resp, err := o.complete(ctx, req)
	if err != nil {
		return "", err
	}

	tc := firstToolCall(resp, toolPlanLiveQuestion)
	if tc == nil {
		return "", fmt.Errorf("%w: no %s tool call in response", core.ErrPlanningFailed, toolPlanLiveQuestion)
	}

	var args planArgs
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return "", fmt.Errorf("%w: %s arguments: %v", core.ErrOracleMalformed, toolPlanLiveQuestion, err)
	}
	if len(args.Text) < minAskTextLen {
		return "", fmt.Errorf("%w: refined text shorter than %d characters", core.ErrOracleMalformed, minAskTextLen)
	}
	return args.Text, nil
}

func (o *ChatOracle) complete(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", core.ErrOracleTimeout, err)
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", core.ErrOracleTimeout, err)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("oracle API error [%d]: %s (type: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("oracle API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrOracleMalformed, err)
	}
	o.logger.Debug("completion finished", "model", o.model, "duration_ms", time.Since(start).Milliseconds())
	return &result, nil
}

// firstToolCall returns the first tool call with the given name from
// the first choice, or nil.
func firstToolCall(resp *chatResponse, name string) *toolCall {
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil
	}
	for i := range resp.Choices[0].Message.ToolCalls {
		tc := &resp.Choices[0].Message.ToolCalls[i]
		if tc.Function.Name == name {
			return tc
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
