// Package store provides atomic, schema-validated JSON persistence for
// the stateful repositories. Writes go through a temp-file-and-rename
// sequence so readers never observe a partially written file.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Logger is the minimal logging surface the store needs.
type Logger interface {
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Store persists one JSON document at a fixed path. All mutations are
// serialized by an internal mutex; the first load is single-flight so
// concurrent callers share one read.
type Store struct {
	path   string
	schema *gojsonschema.Schema
	logger Logger

	mu       sync.Mutex
	loadOnce sync.Once
	raw      []byte
	loaded   bool
}

// New creates a Store for the given path. schemaJSON may be empty to
// skip validation. An invalid schema is a programming error.
func New(path string, schemaJSON string, logger Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	if schemaJSON != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", path, err)
		}
		s.schema = schema
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the document into v. Returns false when the file does not
// exist or fails parsing/validation; in those cases v is left untouched
// and the store behaves as empty (warning only, never a crash).
func (s *Store) Load(v interface{}) (bool, error) {
	s.loadOnce.Do(func() {
		data, err := os.ReadFile(s.path)
		if err != nil {
			if !os.IsNotExist(err) && s.logger != nil {
				s.logger.Warnf("store: read %s: %v", s.path, err)
			}
			return
		}
		s.raw = data
		s.loaded = true
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return false, nil
	}
	if !s.validate(s.raw) {
		// Schema mismatch falls back to empty state.
		s.raw = nil
		s.loaded = false
		return false, nil
	}
	if err := json.Unmarshal(s.raw, v); err != nil {
		if s.logger != nil {
			s.logger.Warnf("store: parse %s, resetting to empty state: %v", s.path, err)
		}
		s.raw = nil
		s.loaded = false
		return false, nil
	}
	return true, nil
}

// Save marshals v and writes it atomically.
func (s *Store) Save(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := AtomicWrite(s.path, data); err != nil {
		return err
	}
	s.raw = data
	s.loaded = true
	return nil
}

// validate checks raw JSON against the schema, logging a warning on
// mismatch. A missing schema always validates.
func (s *Store) validate(raw []byte) bool {
	if s.schema == nil {
		return true
	}
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		if s.logger != nil {
			s.logger.Warnf("store: validate %s: %v", s.path, err)
		}
		return false
	}
	if !result.Valid() {
		if s.logger != nil {
			s.logger.Warnf("store: %s failed schema validation (%d errors), resetting to empty state",
				s.path, len(result.Errors()))
		}
		return false
	}
	return true
}

// AtomicWrite writes data to path using a temp file in the same
// directory followed by a rename. On failure the original file is left
// unchanged.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	// Rename is atomic within the same filesystem.
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	tempFile = nil
	return nil
}
