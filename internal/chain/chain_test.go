package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aethernet/internal/config"
)

func testRegistry() *Registry {
	cfg := &config.Config{
		ChainDefault: "eip155:8453",
		ChainProfiles: []config.ChainProfile{
			{CAIP2: "eip155:8453", Name: "base", Supports: config.ChainCapabilities{Messaging: true, Payments: true}},
			{CAIP2: "eip155:10", Name: "optimism", Supports: config.ChainCapabilities{Identity: true}},
		},
	}
	return NewRegistry(cfg)
}

func TestResolveDefault(t *testing.T) {
	r := testRegistry()
	p, err := r.Resolve(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "eip155:8453", p.CAIP2)
}

func TestResolveExplicitParamOrder(t *testing.T) {
	r := testRegistry()
	p, err := r.Resolve(map[string]any{"network": "eip155:10"})
	require.NoError(t, err)
	assert.Equal(t, "eip155:10", p.CAIP2)

	// "chain" wins over "network"
	p, err = r.Resolve(map[string]any{"chain": "eip155:8453", "network": "eip155:10"})
	require.NoError(t, err)
	assert.Equal(t, "eip155:8453", p.CAIP2)
}

func TestResolveUnknownChain(t *testing.T) {
	r := testRegistry()
	_, err := r.Resolve(map[string]any{"chain": "eip155:1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownChain))
}

func TestResolveNoDefault(t *testing.T) {
	r := NewRegistry(&config.Config{})
	_, err := r.Resolve(map[string]any{})
	assert.True(t, errors.Is(err, ErrUnknownChain))
}

func TestSupports(t *testing.T) {
	r := testRegistry()
	p, _ := r.Resolve(nil)
	assert.True(t, Supports(p, CapMessaging))
	assert.True(t, Supports(p, CapPayments))
	assert.False(t, Supports(p, CapAuth))
}
