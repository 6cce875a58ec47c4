package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"aethernet/internal/config"
)

// ReadOnlyAPIAdapter calls remote tool endpoints over GET only. Any
// request that would mutate remote state is refused before it leaves
// the process.
type ReadOnlyAPIAdapter struct {
	client *http.Client
}

// NewReadOnlyAPIAdapter builds the adapter. client may be nil.
func NewReadOnlyAPIAdapter(client *http.Client) *ReadOnlyAPIAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ReadOnlyAPIAdapter{client: client}
}

// Invoke performs GET <baseUrl>/v1/tools/<tool>?<query>, attaching a
// Bearer token when the source names an auth env var. Non-2xx
// responses come back as ok=false with the status and body in
// metadata.
func (a *ReadOnlyAPIAdapter) Invoke(ctx context.Context, src config.ToolSource, tool string, input map[string]any) Result {
	if method, ok := input["method"].(string); ok && !strings.EqualFold(method, http.MethodGet) {
		return refuse(fmt.Sprintf("read-only API source permits GET only, got %s", strings.ToUpper(method)))
	}
	if src.BaseURL == "" {
		return refuse(fmt.Sprintf("source %q has no baseUrl", src.ID))
	}

	endpoint := strings.TrimRight(src.BaseURL, "/") + "/v1/tools/" + url.PathEscape(tool)
	q := url.Values{}
	for k, v := range input {
		if k == "method" {
			continue
		}
		switch tv := v.(type) {
		case string:
			q.Set(k, tv)
		case float64, int, int64, bool:
			q.Set(k, fmt.Sprint(tv))
		}
	}
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return refuse(fmt.Sprintf("build request: %v", err))
	}
	if src.AuthEnv != "" {
		if token := os.Getenv(src.AuthEnv); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return refuse(fmt.Sprintf("call %s: %v", src.ID, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return refuse(fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{
			OK:    false,
			Error: fmt.Sprintf("tool endpoint returned %d", resp.StatusCode),
			Metadata: map[string]any{
				"status": resp.StatusCode,
				"body":   string(body),
			},
		}
	}

	meta := map[string]any{"status": resp.StatusCode}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			return Result{OK: true, Output: parsed, Metadata: meta}
		}
	}
	return Result{OK: true, Output: string(body), Metadata: meta}
}
