package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vitwit/x402-agent/types"
)

// FileStore persists the document as a JSON file, replaced atomically via a
// temp file and rename. A mutex serializes read-modify-write cycles within
// the process; multi-process deployments need external coordination.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, types.NewAgentError(types.ErrConfigError, "state file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Load(ctx context.Context) (*types.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *FileStore) Update(ctx context.Context, fn func(*types.State) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return f.writeLocked(st)
}

func (f *FileStore) loadLocked() (*types.State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st types.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, types.NewAgentError(types.ErrStateError, "state file is corrupted: %v", err)
	}
	return normalize(&st), nil
}

func (f *FileStore) writeLocked(st *types.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// cloneState deep-copies a document through its JSON form.
func cloneState(st *types.State) (*types.State, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var out types.State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return normalize(&out), nil
}
