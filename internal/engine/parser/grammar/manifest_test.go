package grammar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifestFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGrammarManifest_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeManifestFile(t, dir, `
version = 1
allowed_aib_versions = [14, 15]

[[artifacts]]
language = "AL"
aib_version = 15
so_path = "al/al.so"
so_sha256 = "ABCDEF"
node_types_path = "al/node-types.json"
node_types_sha256 = "123456"
`)

	m, err := LoadGrammarManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version)
	require.Len(t, m.Artifacts, 1)
	assert.Equal(t, "al", m.Artifacts[0].Language)
	assert.Equal(t, "abcdef", m.Artifacts[0].SharedObjectHash)
}

func TestLoadGrammarManifest_RejectsMissingVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeManifestFile(t, dir, `
allowed_aib_versions = [14]

[[artifacts]]
language = "al"
aib_version = 14
so_path = "al/al.so"
so_sha256 = "a"
node_types_path = "al/node-types.json"
node_types_sha256 = "b"
`)

	_, err := LoadGrammarManifest(path)
	assert.Error(t, err)
}

func TestLoadGrammarManifest_RejectsNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	path := writeManifestFile(t, dir, `
version = 1
allowed_aib_versions = [14]
`)

	_, err := LoadGrammarManifest(path)
	assert.Error(t, err)
}

func TestLoadGrammarManifest_RejectsDuplicateLanguage(t *testing.T) {
	dir := t.TempDir()
	path := writeManifestFile(t, dir, `
version = 1
allowed_aib_versions = [14]

[[artifacts]]
language = "al"
aib_version = 14
so_path = "al/al.so"
so_sha256 = "a"
node_types_path = "al/node-types.json"
node_types_sha256 = "b"

[[artifacts]]
language = "AL"
aib_version = 14
so_path = "al2/al.so"
so_sha256 = "c"
node_types_path = "al2/node-types.json"
node_types_sha256 = "d"
`)

	_, err := LoadGrammarManifest(path)
	assert.Error(t, err)
}

func TestLoadGrammarManifest_MissingFile(t *testing.T) {
	_, err := LoadGrammarManifest(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
