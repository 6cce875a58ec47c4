// Package compute defines the sandbox allocation contract used by
// replication and ships a local filesystem provider. A sandbox is the
// isolated home a child agent boots from.
package compute

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox is one allocated child environment.
type Sandbox struct {
	ChildID string
	Dir     string
}

// WriteFile places a file inside the sandbox with owner-only
// permissions. Name must be a bare file name, not a path.
func (s *Sandbox) WriteFile(name string, data []byte) error {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid sandbox file name %q", name)
	}
	return os.WriteFile(filepath.Join(s.Dir, name), data, 0o600)
}

// Provider allocates sandboxes for child agents.
type Provider interface {
	Allocate(ctx context.Context, childID string) (*Sandbox, error)
}

// LocalProvider allocates sandboxes as directories under
// <dataDir>/children/<childID>.
type LocalProvider struct {
	dataDir string
}

// NewLocalProvider builds a provider rooted at dataDir.
func NewLocalProvider(dataDir string) *LocalProvider {
	return &LocalProvider{dataDir: dataDir}
}

// Allocate creates the child directory. Allocating an id twice fails
// so a child home is never silently reused.
func (p *LocalProvider) Allocate(_ context.Context, childID string) (*Sandbox, error) {
	if childID == "" || strings.ContainsAny(childID, "/\\") {
		return nil, fmt.Errorf("invalid child id %q", childID)
	}
	dir := filepath.Join(p.dataDir, "children", childID)
	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return nil, fmt.Errorf("create children dir: %w", err)
	}
	if err := os.Mkdir(dir, 0o700); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("sandbox %s already allocated", childID)
		}
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	return &Sandbox{ChildID: childID, Dir: dir}, nil
}
