// Package selfmod applies bounded self-modifications: rate-limited
// file writes with path protection, per-mutation backups, and
// deterministic rollback.
package selfmod

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aethernet/internal/store"
)

// MaxWritesPerHour bounds successful mutations across any rolling
// hour, path-independent.
const MaxWritesPerHour = 6

// DeleteSentinel marks a mutation whose pre-image did not exist;
// rollback deletes the target instead of restoring a backup.
const DeleteSentinel = "__DELETE__"

// ErrDenied is the root of every self-mod refusal.
var ErrDenied = errors.New("Self-modification denied")

// Specific refusals, all wrapping ErrDenied.
var (
	ErrDisabled      = fmt.Errorf("%w: feature disabled by config", ErrDenied)
	ErrProtectedPath = fmt.Errorf("%w: target path is protected", ErrDenied)
	ErrOutOfScope    = fmt.Errorf("%w: target path outside agent scope", ErrDenied)
)

// GateFunc is consulted before any mutation; it refuses when the
// emergency stop is set or the survival tier is dead.
type GateFunc func() error

// Engine performs self-modifications against the store and the
// filesystem.
type Engine struct {
	store          *store.Store
	gate           GateFunc
	enabled        bool
	homeDir        string
	rollbackDir    string
	protectedPaths []string
	logger         *zap.Logger
	now            func() time.Time
}

// Options configures an Engine.
type Options struct {
	Enabled        bool
	HomeDir        string
	RollbackDir    string
	ProtectedPaths []string
	Gate           GateFunc
	Logger         *zap.Logger
	Now            func() time.Time // test hook
}

// NewEngine builds a self-mod engine.
func NewEngine(st *store.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Gate == nil {
		opts.Gate = func() error { return nil }
	}
	protected := make([]string, 0, len(opts.ProtectedPaths))
	for _, p := range opts.ProtectedPaths {
		if abs, err := filepath.Abs(p); err == nil {
			protected = append(protected, filepath.Clean(abs))
		}
	}
	return &Engine{
		store:          st,
		gate:           opts.Gate,
		enabled:        opts.Enabled,
		homeDir:        opts.HomeDir,
		rollbackDir:    opts.RollbackDir,
		protectedPaths: protected,
		logger:         opts.Logger,
		now:            opts.Now,
	}
}

// Apply writes content to targetPath under every gate, records the
// mutation and its rollback point, and returns the mutation row.
func (e *Engine) Apply(targetPath, content, reason string) (*store.SelfModMutation, error) {
	if err := e.gate(); err != nil {
		return nil, err
	}
	if !e.enabled {
		return nil, ErrDisabled
	}
	if err := e.checkRateLimit(); err != nil {
		return nil, err
	}

	target, err := e.normalize(targetPath)
	if err != nil {
		return nil, err
	}
	if e.isProtected(target) {
		return nil, fmt.Errorf("%w (%s)", ErrProtectedPath, target)
	}
	if !e.inScope(target) {
		return nil, fmt.Errorf("%w (%s)", ErrOutOfScope, target)
	}

	beforeHash, exists, err := hashFile(target)
	if err != nil {
		return nil, fmt.Errorf("hash pre-image: %w", err)
	}

	mutationID := uuid.NewString()
	backupRef := DeleteSentinel
	if exists {
		backupPath, err := e.backup(target)
		if err != nil {
			return nil, err
		}
		backupRef = backupPath
	}
	if err := e.store.SetKV(store.KVSelfModBackupPrefix+mutationID, backupRef); err != nil {
		return nil, err
	}

	if err := writeAtomic(target, []byte(content)); err != nil {
		return nil, fmt.Errorf("write target: %w", err)
	}

	afterHash, _, err := hashFile(target)
	if err != nil {
		return nil, fmt.Errorf("hash post-image: %w", err)
	}
	if err := e.recordWrite(); err != nil {
		return nil, err
	}

	mutation := &store.SelfModMutation{
		ID:         mutationID,
		Path:       target,
		BeforeHash: beforeHash,
		AfterHash:  afterHash,
		Reason:     reason,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.store.InsertMutation(mutation); err != nil {
		return nil, err
	}

	rollbackHash := beforeHash
	if rollbackHash == "" {
		rollbackHash = afterHash
	}
	if err := e.store.InsertRollbackPoint(&store.RollbackPoint{
		MutationID:   mutationID,
		Path:         target,
		RollbackHash: rollbackHash,
		CreatedAt:    mutation.CreatedAt,
	}); err != nil {
		return nil, err
	}

	e.logger.Info("self-modification applied",
		zap.String("path", target),
		zap.String("mutation", mutationID),
		zap.Bool("existed", exists))
	return mutation, nil
}

// Rollback restores the most recent mutation of path: either the
// backed-up pre-image, or deletion when the file did not exist.
func (e *Engine) Rollback(targetPath string) (*store.RollbackPoint, error) {
	target, err := e.normalize(targetPath)
	if err != nil {
		return nil, err
	}
	point, err := e.store.LatestRollbackPoint(target)
	if err != nil {
		return nil, err
	}
	if point == nil {
		return nil, fmt.Errorf("no rollback point for %s", target)
	}

	backupRef, ok, err := e.store.GetKV(store.KVSelfModBackupPrefix + point.MutationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rollback data missing for mutation %s", point.MutationID)
	}

	if backupRef == DeleteSentinel {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove target: %w", err)
		}
	} else {
		data, err := os.ReadFile(backupRef)
		if err != nil {
			return nil, fmt.Errorf("read backup: %w", err)
		}
		if err := writeAtomic(target, data); err != nil {
			return nil, fmt.Errorf("restore backup: %w", err)
		}
	}

	e.logger.Info("self-modification rolled back",
		zap.String("path", target), zap.String("mutation", point.MutationID))
	return point, nil
}

// checkRateLimit prunes timestamps older than an hour and refuses
// when the window is full. Prune and read happen in one transaction.
func (e *Engine) checkRateLimit() error {
	cutoff := e.now().Add(-time.Hour).UnixMilli()
	return e.store.UpdateKV(store.KVSelfModTimestamps, func(cur string, exists bool) (string, error) {
		var stamps []int64
		if exists && cur != "" {
			if err := json.Unmarshal([]byte(cur), &stamps); err != nil {
				stamps = nil
			}
		}
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts > cutoff {
				kept = append(kept, ts)
			}
		}
		if len(kept) >= MaxWritesPerHour {
			return "", fmt.Errorf("%w: %d writes/hour limit exceeded", ErrDenied, MaxWritesPerHour)
		}
		raw, err := json.Marshal(kept)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})
}

// recordWrite appends the current timestamp to the rolling window.
func (e *Engine) recordWrite() error {
	now := e.now().UnixMilli()
	return e.store.UpdateKV(store.KVSelfModTimestamps, func(cur string, exists bool) (string, error) {
		var stamps []int64
		if exists && cur != "" {
			if err := json.Unmarshal([]byte(cur), &stamps); err != nil {
				stamps = nil
			}
		}
		stamps = append(stamps, now)
		raw, err := json.Marshal(stamps)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})
}

func (e *Engine) normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("normalize path: %w", err)
	}
	return filepath.Clean(abs), nil
}

func (e *Engine) isProtected(target string) bool {
	for _, p := range e.protectedPaths {
		if target == p || strings.HasPrefix(target, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// inScope allows paths under the process working directory or the
// agent home directory.
func (e *Engine) inScope(target string) bool {
	roots := []string{}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, filepath.Clean(cwd))
	}
	if e.homeDir != "" {
		if abs, err := filepath.Abs(e.homeDir); err == nil {
			roots = append(roots, filepath.Clean(abs))
		}
	}
	for _, root := range roots {
		if target == root || strings.HasPrefix(target, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// backup copies the current file into the rollback directory.
func (e *Engine) backup(target string) (string, error) {
	if err := os.MkdirAll(e.rollbackDir, 0o700); err != nil {
		return "", fmt.Errorf("create rollback dir: %w", err)
	}
	name := fmt.Sprintf("%s.%d.bak", sanitizeBase(filepath.Base(target)), e.now().UnixMilli())
	backupPath := filepath.Join(e.rollbackDir, name)

	src, err := os.Open(target)
	if err != nil {
		return "", fmt.Errorf("open pre-image: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(backupPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy backup: %w", err)
	}
	return backupPath, nil
}

func sanitizeBase(base string) string {
	var sb strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// writeAtomic writes via a temp file and rename, 0600 file and 0700
// parent.
func writeAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".selfmod-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// hashFile returns the hex sha256 of a file, "" when absent.
func hashFile(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", true, err
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}
