package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/mchiang0610/continue/engine"
)

const sessionFileExt = ".json"

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateID rejects ids that cannot be used as a file name in the sessions dir.
func ValidateID(id string) error {
	if !validID.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Store persists one state snapshot per session id.
type Store interface {
	Exists(id string) (bool, error)
	// Load returns *CorruptStateError when the snapshot cannot be decoded.
	Load(id string) (*engine.State, error)
	// Save fully overwrites any previous snapshot and returns the bytes written.
	Save(id string, state *engine.State) (int64, error)
	List() (map[string]struct{}, error)
	Delete(id string) error
}

// FileStore keeps snapshots as <id>.json files in one directory
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the sessions directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the sessions directory
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the snapshot file for id
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+sessionFileExt)
}

func (s *FileStore) Exists(id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat session file: %w", err)
}

func (s *FileStore) Load(id string) (*engine.State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, err := os.ReadFile(s.Path(id))
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var state engine.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &CorruptStateError{ID: id, Err: err}
	}
	if err := state.Validate(); err != nil {
		return nil, &CorruptStateError{ID: id, Err: err}
	}
	return &state, nil
}

func (s *FileStore) Save(id string, state *engine.State) (int64, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal session state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicWriteFile(s.Path(id), data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write session file: %w", err)
	}
	return int64(len(data)), nil
}

func (s *FileStore) List() (map[string]struct{}, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions dir: %w", err)
	}

	ids := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		id, ok := idFromFileName(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *FileStore) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// idFromFileName maps "<id>.json" back to id, skipping temp files and junk
func idFromFileName(name string) (string, bool) {
	if filepath.Ext(name) != sessionFileExt {
		return "", false
	}
	id := strings.TrimSuffix(name, sessionFileExt)
	if ValidateID(id) != nil {
		return "", false
	}
	return id, true
}

// atomicWriteFile writes to a temp file in the same directory and renames it
// over path, so readers never see a partially written snapshot.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
