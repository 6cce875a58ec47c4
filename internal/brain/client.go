package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"aethernet/internal/config"
)

// retryable statuses for the brain endpoint.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusConflict:            true, // 409
	http.StatusTooEarly:            true, // 425
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

const maxBackoff = 30 * time.Second

// Client calls the language-model endpoint and decodes its plan.
type Client struct {
	cfg    config.BrainConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a brain client. The per-attempt timeout comes from
// config; the http.Client carries no global timeout so retries own
// their own deadlines.
func NewClient(cfg config.BrainConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{}, logger: logger}
}

// request envelope for the responses-style endpoint.
type apiRequest struct {
	Model           string       `json:"model"`
	Temperature     float64      `json:"temperature"`
	MaxOutputTokens int          `json:"max_output_tokens"`
	Input           []apiMessage `json:"input"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// response shapes: either a flat output_text or an array of output
// items each carrying content segments.
type apiResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// GenerateTurn asks the brain for a plan. It never returns an error
// for transport or parse failures; those yield a malformed output.
func (c *Client) GenerateTurn(ctx context.Context, input TurnInput) (TurnOutput, error) {
	apiKey := os.Getenv(c.cfg.APIKeyEnv)
	if apiKey == "" {
		c.logger.Warn("brain API key not set, skipping call", zap.String("env", c.cfg.APIKeyEnv))
		return Malformed("missing_api_key"), nil
	}

	userJSON, err := json.Marshal(input)
	if err != nil {
		return Malformed("input_marshal_failed"), nil
	}

	body := apiRequest{
		Model:           c.cfg.Model,
		Temperature:     c.cfg.Temperature,
		MaxOutputTokens: c.cfg.MaxOutputTokens,
		Input: []apiMessage{
			{Role: "system", Content: []apiContent{{Type: "input_text", Text: systemPrompt()}}},
			{Role: "user", Content: []apiContent{{Type: "input_text", Text: string(userJSON)}}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Malformed("request_marshal_failed"), nil
	}

	text, err := c.post(ctx, apiKey, payload)
	if err != nil {
		c.logger.Warn("brain request failed", zap.Error(err))
		return Malformed("request_failed"), nil
	}

	out, ok := decodePlan(text)
	if !ok {
		c.logger.Warn("brain returned undecodable plan", zap.Int("textLen", len(text)))
		return Malformed("invalid_json"), nil
	}
	return sanitize(out), nil
}

// post performs the HTTP call with retry and exponential backoff.
func (c *Client) post(ctx context.Context, apiKey string, payload []byte) (string, error) {
	attempts := c.cfg.MaxRetries + 1
	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := backoffFor(attempt, c.cfg.RetryBackoffMs)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		text, status, err := c.doOnce(attemptCtx, apiKey, payload)
		cancel()

		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusOK:
			return text, nil
		case retryableStatus[status]:
			lastErr = fmt.Errorf("brain endpoint returned %d", status)
		default:
			return "", fmt.Errorf("brain endpoint returned %d", status)
		}
		c.logger.Debug("brain attempt failed",
			zap.Int("attempt", attempt), zap.Int("status", status), zap.Error(lastErr))
	}
	return "", fmt.Errorf("brain request failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, apiKey string, payload []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, nil
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	if decoded.OutputText != "" {
		return decoded.OutputText, resp.StatusCode, nil
	}
	var sb strings.Builder
	for _, item := range decoded.Output {
		for _, seg := range item.Content {
			sb.WriteString(seg.Text)
		}
	}
	return sb.String(), resp.StatusCode, nil
}

// backoffFor computes max(100, base)·2^(attempt−2) for the delay
// before the given attempt number, capped at 30s.
func backoffFor(attempt, baseMs int) time.Duration {
	if baseMs < 100 {
		baseMs = 100
	}
	d := time.Duration(baseMs) * time.Millisecond
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// decodePlan parses the model text as a TurnOutput, falling back to
// the first {...} block when the text has prose around the JSON.
func decodePlan(text string) (TurnOutput, bool) {
	var out TurnOutput
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return TurnOutput{}, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return TurnOutput{}, false
	}
	return out, true
}

// sanitize coerces a decoded plan into safe defaults and drops
// actions outside the closed set. The result is ok only when a
// non-empty summary and at least one action survive.
func sanitize(out TurnOutput) TurnOutput {
	allowed := AllowedActionTypes()
	kept := make([]Action, 0, len(out.NextActions))
	for _, a := range out.NextActions {
		if !allowed[a.Type] {
			continue
		}
		if a.Params == nil {
			a.Params = map[string]any{}
		}
		kept = append(kept, a)
	}
	out.NextActions = kept
	out.Summary = strings.TrimSpace(out.Summary)

	if out.Integrity != IntegrityMalformed {
		if out.Summary != "" && len(out.NextActions) > 0 {
			out.Integrity = IntegrityOK
		} else {
			out.Integrity = IntegrityMalformed
		}
	}
	return out
}

// systemPrompt enumerates the allowed action types and forbids shell
// commands. Kept deliberately short; the turn input carries the state.
func systemPrompt() string {
	return strings.TrimSpace(`
You are the planning brain of an autonomous wallet-native agent.
Respond with a single JSON object:
{"summary": string, "nextActions": [{"type": string, "params": object}], "memoryWrites": {"facts": [], "episodes": []}, "sleepMs": number}
Allowed action types: send_message, replicate, self_modify, record_fact, record_episode, invoke_tool, sleep, noop.
Never plan shell commands or any action type outside this list.
`)
}
