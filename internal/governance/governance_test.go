package governance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aethernet/internal/config"
	"aethernet/internal/store"
)

func setup(t *testing.T) (*Verifier, *store.Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	constitution := filepath.Join(dir, "constitution.md")
	laws := filepath.Join(dir, "laws.md")
	require.NoError(t, os.WriteFile(constitution, []byte("# Constitution\nDo no harm.\n"), 0o600))
	require.NoError(t, os.WriteFile(laws, []byte("# Laws\n1. Stay solvent.\n"), 0o600))

	st, err := store.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	v := NewVerifier(config.ConstitutionPolicy{
		ConstitutionPath: constitution,
		LawsPath:         laws,
		HashAlgorithm:    "sha256",
	}, st, nil)
	return v, st, constitution, laws
}

func TestSealRecordsHashesAndLocksPerms(t *testing.T) {
	v, _, constitution, laws := setup(t)
	require.NoError(t, v.Seal())

	for _, p := range []string{constitution, laws} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())
	}
	assert.NoError(t, v.Verify())
}

func TestSealIsIdempotent(t *testing.T) {
	v, _, _, _ := setup(t)
	require.NoError(t, v.Seal())
	assert.NoError(t, v.Seal())
}

func TestVerifyDetectsTampering(t *testing.T) {
	v, st, constitution, _ := setup(t)
	require.NoError(t, v.Seal())

	require.NoError(t, os.Chmod(constitution, 0o600))
	require.NoError(t, os.WriteFile(constitution, []byte("amended"), 0o600))

	err := v.Verify()
	require.Error(t, err)
	n, err := st.CountIncidentsByCode(store.CodeSecurityPolicyViolation)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVerifyDetectsDeletion(t *testing.T) {
	v, st, _, laws := setup(t)
	require.NoError(t, v.Seal())

	require.NoError(t, os.Chmod(laws, 0o600))
	require.NoError(t, os.Remove(laws))

	require.Error(t, v.Verify())
	n, _ := st.CountIncidentsByCode(store.CodeSecurityPolicyViolation)
	assert.Equal(t, 1, n)
}

func TestVerifyUnsealedIsNoop(t *testing.T) {
	v, _, _, _ := setup(t)
	assert.NoError(t, v.Verify())
}

func TestWatcherRecordsViolationOnChange(t *testing.T) {
	v, st, constitution, _ := setup(t)
	require.NoError(t, v.Seal())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Watch(ctx) }()

	// give the watcher time to install
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Chmod(constitution, 0o600))
	require.NoError(t, os.WriteFile(constitution, []byte("tampered"), 0o600))

	require.Eventually(t, func() bool {
		n, err := st.CountIncidentsByCode(store.CodeSecurityPolicyViolation)
		return err == nil && n >= 1
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
