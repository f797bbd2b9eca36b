// Package state persists the source and destination record maps of every
// resource type as JSON documents on disk.
//
// The layout is one file per origin and type:
//
//	<dir>/source/<type>.json
//	<dir>/destination/<type>.json
//
// Each file holds a single JSON object keyed by the stable key of the record.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/orgsync/pkg/engine"
)

// DefaultDir is the state directory used when none is configured.
const DefaultDir = "resources"

// FileStore implements engine.StateStore over a directory of JSON files.
type FileStore struct {
	dir    string
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one writer per file
}

var _ engine.StateStore = (*FileStore)(nil)

// NewFileStore creates a store rooted at dir. The directory is created on the
// first write.
func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	if dir == "" {
		dir = DefaultDir
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "state").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Dir returns the root directory of the store.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file holding the records of t for origin.
func (s *FileStore) Path(t engine.ResourceType, origin engine.Origin) string {
	return filepath.Join(s.dir, string(origin), string(t)+".json")
}

// Load reads the source and destination maps of t. A missing or empty file
// yields an empty map. A file that cannot be decoded is logged and also
// yields an empty map; only read failures are returned.
func (s *FileStore) Load(t engine.ResourceType) (map[string]engine.Record, map[string]engine.Record, error) {
	src, err := s.read(t, engine.OriginSource)
	if err != nil {
		return nil, nil, err
	}
	dst, err := s.read(t, engine.OriginDestination)
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

func (s *FileStore) read(t engine.ResourceType, origin engine.Origin) (map[string]engine.Record, error) {
	path := s.Path(t, origin)
	records := make(map[string]engine.Record)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return records, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn().
			Err(err).
			Str("resource_type", string(t)).
			Str("origin", string(origin)).
			Str("path", path).
			Msg("invalid state file; starting from an empty map")
		return make(map[string]engine.Record), nil
	}

	// "null" decodes into a nil map
	if records == nil {
		records = make(map[string]engine.Record)
	}
	return records, nil
}

// Persist overwrites the file of t for origin with records. Keys are written
// in sorted order. The file is replaced atomically.
func (s *FileStore) Persist(t engine.ResourceType, origin engine.Origin, records map[string]engine.Record) error {
	path := s.Path(t, origin)

	lock := s.lock(path)
	lock.Lock()
	defer lock.Unlock()

	if records == nil {
		records = map[string]engine.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s state: %w", t, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+string(t)+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	s.logger.Debug().
		Str("resource_type", string(t)).
		Str("origin", string(origin)).
		Int("records", len(records)).
		Msg("state persisted")
	return nil
}

func (s *FileStore) lock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}
