// Package governance verifies the agent's constitution and laws files
// against recorded hashes and watches them for tampering. The files
// are immutable at runtime: permissions are forced to read-only and
// any observed change is recorded as a security policy violation.
package governance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"aethernet/internal/config"
	"aethernet/internal/store"
)

// hashKeyPrefix keys the recorded hash of each governance file in KV.
const hashKeyPrefix = "constitution_hash_v1:"

// Verifier checks governance file integrity.
type Verifier struct {
	policy config.ConstitutionPolicy
	store  *store.Store
	logger *zap.Logger
}

// NewVerifier builds a verifier for the configured policy.
func NewVerifier(policy config.ConstitutionPolicy, st *store.Store, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{policy: policy, store: st, logger: logger}
}

// paths returns the governance files that exist in the policy.
func (v *Verifier) paths() []string {
	var out []string
	for _, p := range []string{v.policy.ConstitutionPath, v.policy.LawsPath} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Seal records the current hash of each governance file and forces
// read-only permissions. Called once at initialization; re-sealing an
// already-sealed file with different content fails.
func (v *Verifier) Seal() error {
	for _, path := range v.paths() {
		sum, err := hashFile(path)
		if os.IsNotExist(err) {
			continue // nothing to govern yet
		}
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}
		key := hashKeyPrefix + filepath.Clean(path)
		recorded, ok, err := v.store.GetKV(key)
		if err != nil {
			return err
		}
		if ok && recorded != sum {
			return v.violation(path, recorded, sum)
		}
		if !ok {
			if err := v.store.SetKV(key, sum); err != nil {
				return err
			}
		}
		if err := os.Chmod(path, 0o444); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return nil
}

// Verify recomputes every governance hash against the recorded one.
// A mismatch or a missing file records a SECURITY_POLICY_VIOLATION
// incident and returns an error.
func (v *Verifier) Verify() error {
	for _, path := range v.paths() {
		key := hashKeyPrefix + filepath.Clean(path)
		recorded, ok, err := v.store.GetKV(key)
		if err != nil {
			return err
		}
		if !ok {
			continue // never sealed
		}
		sum, err := hashFile(path)
		if err != nil {
			return v.violation(path, recorded, "")
		}
		if sum != recorded {
			return v.violation(path, recorded, sum)
		}
	}
	return nil
}

// violation records the incident and returns the integrity error.
func (v *Verifier) violation(path, expected, actual string) error {
	msg := fmt.Sprintf("governance file %s failed integrity check", path)
	_ = v.store.InsertIncident(&store.Incident{
		Code:     store.CodeSecurityPolicyViolation,
		Severity: store.SeverityCritical,
		Category: "governance",
		Message:  msg,
		Metadata: map[string]any{
			"path":     path,
			"expected": expected,
			"actual":   actual,
		},
	})
	v.logger.Error("governance integrity violation",
		zap.String("path", path))
	return fmt.Errorf("%s", msg)
}

// Watch blocks until ctx is done, re-verifying whenever a watched
// file changes. Violations are recorded but do not stop the watcher.
func (v *Verifier) Watch(ctx context.Context) error {
	paths := v.paths()
	if len(paths) == 0 {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch parent directories so replace-by-rename is observed.
	dirs := map[string]bool{}
	for _, p := range paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	watched := map[string]bool{}
	for _, p := range paths {
		watched[filepath.Clean(p)] = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod|fsnotify.Create) == 0 {
				continue
			}
			if err := v.Verify(); err != nil {
				v.logger.Warn("governance watcher detected change",
					zap.String("file", event.Name), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			v.logger.Warn("governance watcher error", zap.Error(err))
		}
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
