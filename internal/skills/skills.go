// Package skills loads skill definitions from disk. Skills are
// consumed read-only: each lives in skills/<id>/ with a SKILL.md whose
// YAML front-matter carries the metadata, plus an optional
// manifest.json. The enabled set is persisted in the state store so a
// toggle survives restarts.
package skills

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"aethernet/internal/store"
)

// Skill is one loaded skill definition.
type Skill struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	Version     string `yaml:"version" json:"version,omitempty"`
	Body        string `yaml:"-" json:"-"`
}

// Manifest is the optional manifest.json next to SKILL.md.
type Manifest struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Version string   `json:"version,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Library holds the skills found on disk.
type Library struct {
	dir    string
	store  *store.Store
	logger *zap.Logger
	skills map[string]Skill
}

// Load scans dir for skill directories. A missing dir yields an empty
// library; a malformed skill is skipped with a warning, never fatal.
func Load(dir string, st *store.Store, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lib := &Library{dir: dir, store: st, logger: logger, skills: map[string]Skill{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sk, err := loadOne(filepath.Join(dir, entry.Name()), entry.Name())
		if err != nil {
			logger.Warn("skipping malformed skill",
				zap.String("skill", entry.Name()), zap.Error(err))
			continue
		}
		lib.skills[sk.ID] = sk
	}
	return lib, nil
}

// loadOne parses SKILL.md front-matter, then overlays manifest.json.
func loadOne(dir, fallbackID string) (Skill, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "SKILL.md"))
	if err != nil {
		return Skill{}, fmt.Errorf("read SKILL.md: %w", err)
	}

	sk, body, err := parseFrontMatter(raw)
	if err != nil {
		return Skill{}, err
	}
	sk.Body = body
	if sk.ID == "" {
		sk.ID = fallbackID
	}
	if sk.Name == "" {
		sk.Name = sk.ID
	}

	if mraw, err := os.ReadFile(filepath.Join(dir, "manifest.json")); err == nil {
		var m Manifest
		if err := json.Unmarshal(mraw, &m); err != nil {
			return Skill{}, fmt.Errorf("parse manifest.json: %w", err)
		}
		if m.ID != "" && m.ID != sk.ID {
			return Skill{}, fmt.Errorf("manifest id %q disagrees with skill id %q", m.ID, sk.ID)
		}
		if m.Name != "" {
			sk.Name = m.Name
		}
		if m.Version != "" {
			sk.Version = m.Version
		}
	}
	return sk, nil
}

// parseFrontMatter splits a leading ---\n...\n--- YAML block from the
// markdown body.
func parseFrontMatter(raw []byte) (Skill, string, error) {
	var sk Skill
	content := string(bytes.TrimPrefix(raw, []byte("\ufeff")))
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return sk, content, nil
	}
	rest := content[strings.Index(content, "\n")+1:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return sk, "", fmt.Errorf("unterminated front-matter")
	}
	if err := yaml.Unmarshal([]byte(rest[:idx]), &sk); err != nil {
		return sk, "", fmt.Errorf("parse front-matter: %w", err)
	}
	body := rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\r")
	body = strings.TrimPrefix(body, "\n")
	return sk, body, nil
}

// All returns every loaded skill sorted by id.
func (l *Library) All() []Skill {
	out := make([]Skill, 0, len(l.skills))
	for _, sk := range l.skills {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a skill by id.
func (l *Library) Get(id string) (Skill, bool) {
	sk, ok := l.skills[id]
	return sk, ok
}

// EnabledIDs reads the persisted enabled set, falling back to
// defaults when nothing is stored yet.
func (l *Library) EnabledIDs(defaults []string) ([]string, error) {
	var ids []string
	ok, err := l.store.GetKVJSON(store.KVEnabledSkillIDs, &ids)
	if err != nil {
		return nil, err
	}
	if !ok {
		return append([]string(nil), defaults...), nil
	}
	return ids, nil
}

// SetEnabled persists the enabled set. Unknown ids are rejected.
func (l *Library) SetEnabled(ids []string) error {
	for _, id := range ids {
		if _, ok := l.skills[id]; !ok {
			return fmt.Errorf("unknown skill %q", id)
		}
	}
	return l.store.SetKVJSON(store.KVEnabledSkillIDs, ids)
}

// Enabled resolves the enabled set to loaded skills, dropping ids
// whose directories have disappeared.
func (l *Library) Enabled(defaults []string) ([]Skill, error) {
	ids, err := l.EnabledIDs(defaults)
	if err != nil {
		return nil, err
	}
	out := make([]Skill, 0, len(ids))
	for _, id := range ids {
		if sk, ok := l.skills[id]; ok {
			out = append(out, sk)
		}
	}
	return out, nil
}
