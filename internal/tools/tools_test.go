package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aethernet/internal/config"
	"aethernet/internal/store"
)

type echoAdapter struct{ last string }

func (e *echoAdapter) Invoke(_ context.Context, _ config.ToolSource, tool string, _ map[string]any) Result {
	e.last = tool
	return Result{OK: true, Output: tool}
}

func TestRegistryPolicyChain(t *testing.T) {
	sources := []config.ToolSource{
		{ID: "core", Name: "Core", Type: "internal", Enabled: true},
		{ID: "off", Name: "Off", Type: "internal", Enabled: false},
		{ID: "ext", Name: "Ext", Type: "api", Enabled: true},
		{ID: "custom", Name: "Custom", Type: "internal", Enabled: true,
			Metadata: map[string]string{"adapter": "special"}},
	}
	echo := &echoAdapter{}
	r := NewRegistry(sources, false, nil)
	r.RegisterAdapter("internal", echo)

	res := r.Invoke(context.Background(), Invocation{SourceID: "nope", Tool: "x"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "unknown tool source")

	res = r.Invoke(context.Background(), Invocation{SourceID: "off", Tool: "x"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "disabled")

	// external refused while the policy forbids it
	res = r.Invoke(context.Background(), Invocation{SourceID: "ext", Tool: "x"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "external tool sources are disabled")

	// metadata adapter override with no registration
	res = r.Invoke(context.Background(), Invocation{SourceID: "custom", Tool: "x"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, `no adapter "special"`)

	res = r.Invoke(context.Background(), Invocation{SourceID: "core", Tool: "ping"})
	assert.True(t, res.OK)
	assert.Equal(t, "ping", echo.last)
}

func TestRegistryExternalAllowed(t *testing.T) {
	echo := &echoAdapter{}
	r := NewRegistry([]config.ToolSource{
		{ID: "ext", Type: "api", Enabled: true},
	}, true, nil)
	r.RegisterAdapter("readonly_api", echo)

	res := r.Invoke(context.Background(), Invocation{SourceID: "ext", Tool: "lookup"})
	assert.True(t, res.OK)
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestInternalAdapterSurface(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertFact(&store.MemoryFact{Key: "goal", Value: "stay solvent"}))
	require.NoError(t, st.AppendEpisode(&store.MemoryEpisode{Summary: "first turn"}))
	require.NoError(t, st.UpsertMessage(&store.Message{ID: "m1", From: "peer", To: "me", ThreadID: "t1", Content: "hi"}))
	require.NoError(t, st.AppendSurvivalSnapshot(&store.SurvivalSnapshot{Tier: "normal", EstimatedUsd: 42}))

	a := NewInternalAdapter(st, func() map[string]any {
		return map[string]any{"state": "running"}
	})
	src := config.ToolSource{ID: "core", Type: "internal"}

	res := a.Invoke(context.Background(), src, "agent_status", nil)
	require.True(t, res.OK)
	status := res.Output.(map[string]any)
	assert.Equal(t, "running", status["state"])
	assert.Equal(t, 1, status["queueDepth"])

	res = a.Invoke(context.Background(), src, "memory_facts", nil)
	require.True(t, res.OK)
	assert.Len(t, res.Output.([]store.MemoryFact), 1)

	res = a.Invoke(context.Background(), src, "memory_episodes", map[string]any{"limit": float64(5)})
	require.True(t, res.OK)
	assert.Len(t, res.Output.([]store.MemoryEpisode), 1)

	res = a.Invoke(context.Background(), src, "message_thread", map[string]any{"threadId": "t1"})
	require.True(t, res.OK)
	assert.Len(t, res.Output.([]store.Message), 1)

	res = a.Invoke(context.Background(), src, "message_thread", nil)
	assert.False(t, res.OK)

	res = a.Invoke(context.Background(), src, "survival_snapshot", nil)
	require.True(t, res.OK)
	assert.Equal(t, "normal", res.Output.(*store.SurvivalSnapshot).Tier)

	res = a.Invoke(context.Background(), src, "queue_depth", nil)
	require.True(t, res.OK)

	res = a.Invoke(context.Background(), src, "format_disk", nil)
	assert.False(t, res.OK)
}

func TestReadOnlyAPIAdapterGet(t *testing.T) {
	t.Setenv("TOOL_API_TOKEN", "sekrit")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/tools/price", r.URL.Path)
		assert.Equal(t, "eth", r.URL.Query().Get("asset"))
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"usd": 3000}`))
	}))
	defer srv.Close()

	a := NewReadOnlyAPIAdapter(nil)
	src := config.ToolSource{ID: "px", Type: "api", BaseURL: srv.URL, AuthEnv: "TOOL_API_TOKEN"}

	res := a.Invoke(context.Background(), src, "price", map[string]any{"asset": "eth"})
	require.True(t, res.OK)
	assert.Equal(t, float64(3000), res.Output.(map[string]any)["usd"])
	assert.Equal(t, http.StatusOK, res.Metadata["status"])
}

func TestReadOnlyAPIAdapterTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	a := NewReadOnlyAPIAdapter(nil)
	res := a.Invoke(context.Background(), config.ToolSource{ID: "t", BaseURL: srv.URL}, "ping", nil)
	require.True(t, res.OK)
	assert.Equal(t, "pong", res.Output)
}

func TestReadOnlyAPIAdapterRefusesNonGet(t *testing.T) {
	a := NewReadOnlyAPIAdapter(nil)
	res := a.Invoke(context.Background(), config.ToolSource{ID: "t", BaseURL: "http://unused"}, "x",
		map[string]any{"method": "POST"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "GET only")
}

func TestReadOnlyAPIAdapterFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewReadOnlyAPIAdapter(nil)
	res := a.Invoke(context.Background(), config.ToolSource{ID: "t", BaseURL: srv.URL}, "x", nil)
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusForbidden, res.Metadata["status"])
	assert.Contains(t, res.Metadata["body"], "nope")
}
