package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// FilePersister mirrors the auth state to a JSON file. It is the durable
// per-origin store analog for native contexts; browsers use origin
// storage instead.
type FilePersister struct {
	mu   sync.Mutex
	path string
}

// NewFilePersister creates a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Save writes the state atomically (write to temp file, then rename).
func (f *FilePersister) Save(state State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".authstate-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}

// Load reads the last saved state. A missing file is (zero, false, nil).
func (f *FilePersister) Load() (State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

// MemoryPersister is an in-memory Persister for tests and ephemeral
// contexts.
type MemoryPersister struct {
	mu    sync.Mutex
	state State
	saved bool

	// FailSaves makes Save return an error; for testing the store's
	// swallow-and-log behavior.
	FailSaves error
}

// Save stores the state in memory.
func (m *MemoryPersister) Save(state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.state = state
	m.saved = true
	return nil
}

// Load returns the last saved state.
func (m *MemoryPersister) Load() (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.saved, nil
}
