package speak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const auraBaseURL = "https://api.deepgram.com"

// AuraProvider implements Synthesizer using Deepgram's Aura TTS API.
type AuraProvider struct {
	apiKey     string
	baseURL    string
	model      string
	sampleRate int
	httpClient *http.Client
}

// AuraOptions configures an AuraProvider. Zero values pick the
// defaults used for meeting injection: aura-asteria-en, linear16 at
// 16kHz.
type AuraOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	SampleRate int
	HTTPClient *http.Client
}

// NewAura creates a new Aura TTS provider.
func NewAura(opts AuraOptions) *AuraProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = auraBaseURL
	}
	if opts.Model == "" {
		opts.Model = "aura-asteria-en"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &AuraProvider{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		model:      opts.Model,
		sampleRate: opts.SampleRate,
		httpClient: client,
	}
}

// Name returns the provider identifier.
func (a *AuraProvider) Name() string {
	return "aura"
}

// Synthesize converts text to linear16 PCM audio.
func (a *AuraProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	u, err := url.Parse(a.baseURL + "/v1/speak")
	if err != nil {
		return nil, fmt.Errorf("parse speak URL: %w", err)
	}
	q := u.Query()
	q.Set("model", a.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(a.sampleRate))
	u.RawQuery = q.Encode()

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aura request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("aura error %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}
