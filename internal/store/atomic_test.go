package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

const testSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"count": {"type": "integer"}
	},
	"required": ["name"]
}`

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	s, err := New(path, "", nil)
	require.NoError(t, err)

	require.NoError(t, s.Save(testDoc{Name: "alpha", Count: 3}))

	// A fresh store reads what the first one wrote.
	s2, err := New(path, "", nil)
	require.NoError(t, err)
	var got testDoc
	ok, err := s2.Load(&got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testDoc{Name: "alpha", Count: 3}, got)
}

func TestStoreLoadMissingFile(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "missing.json"), "", nil)
	require.NoError(t, err)

	var got testDoc
	ok, err := s.Load(&got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, testDoc{}, got, "target must be untouched")
}

func TestStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := New(path, "", nil)
	require.NoError(t, err)

	var got testDoc
	ok, err := s.Load(&got)
	require.NoError(t, err, "corruption degrades to empty state, never an error")
	assert.False(t, ok)
}

func TestStoreSchemaValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantOK  bool
	}{
		{name: "valid document", content: `{"name":"x","count":1}`, wantOK: true},
		{name: "missing required field", content: `{"count":1}`, wantOK: false},
		{name: "wrong type", content: `{"name":"x","count":"many"}`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "doc.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			s, err := New(path, testSchema, nil)
			require.NoError(t, err)

			var got testDoc
			ok, err := s.Load(&got)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestStoreInvalidSchemaRejected(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "doc.json"), `{"type": 42}`, nil)
	require.Error(t, err)
}

func TestAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	require.NoError(t, AtomicWrite(path, []byte("first")))
	require.NoError(t, AtomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// No temp files may survive.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")

	first := NewProcessLock(path)
	ok, err := first.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	second := NewProcessLock(path)
	ok, err = second.Acquire()
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the first holds the lock")

	require.NoError(t, first.Release())
	ok, err = second.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release())
}
