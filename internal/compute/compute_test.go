package compute

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateCreatesChildDir(t *testing.T) {
	dataDir := t.TempDir()
	p := NewLocalProvider(dataDir)

	sb, err := p.Allocate(context.Background(), "child-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "children", "child-1"), sb.Dir)

	info, err := os.Stat(sb.Dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestAllocateRefusesReuse(t *testing.T) {
	p := NewLocalProvider(t.TempDir())
	_, err := p.Allocate(context.Background(), "c")
	require.NoError(t, err)
	_, err = p.Allocate(context.Background(), "c")
	assert.ErrorContains(t, err, "already allocated")
}

func TestAllocateRejectsPathyIDs(t *testing.T) {
	p := NewLocalProvider(t.TempDir())
	_, err := p.Allocate(context.Background(), "../escape")
	assert.Error(t, err)
	_, err = p.Allocate(context.Background(), "")
	assert.Error(t, err)
}

func TestSandboxWriteFile(t *testing.T) {
	p := NewLocalProvider(t.TempDir())
	sb, err := p.Allocate(context.Background(), "c")
	require.NoError(t, err)

	require.NoError(t, sb.WriteFile("genesis.json", []byte(`{"name":"c"}`)))
	info, err := os.Stat(filepath.Join(sb.Dir, "genesis.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Error(t, sb.WriteFile("../escape", []byte("x")))
	assert.Error(t, sb.WriteFile("", nil))
}
