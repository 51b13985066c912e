package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureGitignoreCreatesFile(t *testing.T) {
	dir := t.TempDir()
	g := NewGit(dir, nil)

	changed, err := g.EnsureGitignore([]string{"snapshots/", "logs/"})
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "snapshots/\nlogs/\n", string(data))
}

func TestEnsureGitignoreAppendsMissingOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("node_modules/\nsnapshots/\n"), 0644))

	g := NewGit(dir, nil)
	changed, err := g.EnsureGitignore([]string{"snapshots/", "logs/"})
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "node_modules/\nsnapshots/\nlogs/\n", string(data))
}

func TestEnsureGitignoreNoChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("snapshots/\n"), 0644))

	g := NewGit(dir, nil)
	changed, err := g.EnsureGitignore([]string{"snapshots/"})
	require.NoError(t, err)
	assert.False(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/\n", string(data))
}
