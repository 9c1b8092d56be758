// Package gemini implements maestro.Decider using the Google Gemini API.
//
// Decisions are requested with structured JSON output: the response schema
// constrains next_step_name to FINISH plus the workflow's step IDs so the
// model cannot invent steps. Responses are validated again on the way in.
package gemini

import (
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

	"github.com/maestrohq/maestro"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements maestro.Decider for Google Gemini models.
type Client struct {
	apiKey      string
	model       string
	httpClient  *http.Client
	temperature float64
	topP        float64
	logger      *slog.Logger
}

var _ maestro.Decider = (*Client)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Gemini decider with functional options.
func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		temperature: 0.1,
		topP:        0.9,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "gemini".
func (c *Client) Name() string { return "gemini" }

// Decide sends one structured-output generation request and validates the
// returned decision against the workflow's step list.
func (c *Client) Decide(ctx context.Context, p maestro.Prompt) (maestro.Decision, error) {
	prompt := buildPrompt(p)
	body := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": prompt}},
			},
		},
		"generationConfig": map[string]any{
			"temperature":      c.temperature,
			"topP":             c.topP,
			"responseMimeType": "application/json",
			"responseSchema":   decisionSchema(p.Steps),
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return maestro.Decision{}, c.wrapErr("marshal body: "+err.Error(), err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return maestro.Decision{}, c.wrapErr("create request: "+err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	c.logger.Info("gemini: request",
		"intent", p.Intent.String(), "workflow", p.WorkflowName, "model", c.model, "prompt", prompt)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.logger.Error("gemini: request timed out", "intent", p.Intent.String(), "duration", time.Since(start))
			return maestro.Decision{}, &maestro.ErrDecider{Provider: "gemini", Message: "request timed out", Timeout: true, Err: err}
		}
		return maestro.Decision{}, c.wrapErr("request failed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return maestro.Decision{}, c.wrapErr("read response body: "+err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("gemini: api error",
			"intent", p.Intent.String(), "status", resp.StatusCode, "duration", time.Since(start))
		return maestro.Decision{}, &maestro.ErrDeciderAPI{Provider: "gemini", Status: resp.StatusCode, Body: string(respBody)}
	}

	raw, usage, err := extractText(respBody)
	if usage != nil {
		maestro.ReportUsage(ctx, maestro.TokenUsage{
			InputTokens:  usage.PromptTokenCount,
			OutputTokens: usage.CandidatesTokenCount,
		})
	}
	if err != nil {
		return maestro.Decision{}, err
	}
	c.logger.Info("gemini: response",
		"intent", p.Intent.String(), "raw", raw, "duration", time.Since(start))

	decision, err := parseDecision(raw, p.Steps)
	if err != nil {
		return maestro.Decision{}, err
	}
	c.logger.Debug("gemini: decide ok",
		"intent", p.Intent.String(), "next_step", decision.NextStepName, "duration", time.Since(start))
	return decision, nil
}

func (c *Client) wrapErr(msg string, err error) error {
	return &maestro.ErrDecider{Provider: "gemini", Message: msg, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ---- Response parsing types ----

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *promptFeedback   `json:"promptFeedback"`
	UsageMetadata  *geminiUsage      `json:"usageMetadata"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// extractText concatenates the text parts of the first candidate,
// surfacing safety blocks as their own error kind.
func extractText(body []byte) (string, *geminiUsage, error) {
	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, &maestro.ErrDecider{Provider: "gemini", Message: "parse response JSON: " + err.Error(), Err: err}
	}
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", parsed.UsageMetadata, &maestro.ErrSafetyBlocked{Reason: parsed.PromptFeedback.BlockReason}
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		cand := parsed.Candidates[0]
		if cand.FinishReason == "SAFETY" {
			return "", parsed.UsageMetadata, &maestro.ErrSafetyBlocked{Reason: "candidate finished with reason SAFETY"}
		}
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", parsed.UsageMetadata, &maestro.ErrInvalidDecision{Message: "empty response from model"}
	}
	return text.String(), parsed.UsageMetadata, nil
}
