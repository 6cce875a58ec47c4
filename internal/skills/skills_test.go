package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aethernet/internal/store"
)

func writeSkill(t *testing.T, dir, id, frontMatter, body string) {
	t.Helper()
	skillDir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	content := "---\n" + frontMatter + "\n---\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644))
}

func testLibrary(t *testing.T, dir string) *Library {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	lib, err := Load(dir, st, nil)
	require.NoError(t, err)
	return lib
}

func TestLoadParsesFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "trading",
		"id: trading\nname: Trading\ndescription: price checks\nversion: \"1.2\"",
		"Use the price tool before quoting.")

	lib := testLibrary(t, dir)
	sk, ok := lib.Get("trading")
	require.True(t, ok)
	assert.Equal(t, "Trading", sk.Name)
	assert.Equal(t, "price checks", sk.Description)
	assert.Equal(t, "1.2", sk.Version)
	assert.Equal(t, "Use the price tool before quoting.", sk.Body)
}

func TestLoadFallsBackToDirectoryID(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "research", "description: web lookups", "body")

	lib := testLibrary(t, dir)
	sk, ok := lib.Get("research")
	require.True(t, ok)
	assert.Equal(t, "research", sk.ID)
	assert.Equal(t, "research", sk.Name)
}

func TestManifestOverlay(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "ops", "id: ops\nname: Ops", "body")
	manifest := `{"id": "ops", "name": "Operations", "version": "2.0"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ops", "manifest.json"), []byte(manifest), 0o644))

	lib := testLibrary(t, dir)
	sk, _ := lib.Get("ops")
	assert.Equal(t, "Operations", sk.Name)
	assert.Equal(t, "2.0", sk.Version)
}

func TestManifestIDMismatchSkipsSkill(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a", "id: a", "body")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "manifest.json"), []byte(`{"id":"b"}`), 0o644))

	lib := testLibrary(t, dir)
	_, ok := lib.Get("a")
	assert.False(t, ok)
}

func TestMissingDirYieldsEmptyLibrary(t *testing.T) {
	lib := testLibrary(t, filepath.Join(t.TempDir(), "nope"))
	assert.Empty(t, lib.All())
}

func TestEnabledSetPersistence(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a", "id: a", "")
	writeSkill(t, dir, "b", "id: b", "")
	lib := testLibrary(t, dir)

	// nothing stored: defaults apply
	ids, err := lib.EnabledIDs([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	require.NoError(t, lib.SetEnabled([]string{"a", "b"}))
	enabled, err := lib.Enabled(nil)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	assert.Error(t, lib.SetEnabled([]string{"ghost"}))
}
