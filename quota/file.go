package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FileStore keeps the quota record in a JSON file:
//
//	{"date":"2024-06-01","count":3}
//
// Writes are atomic: readers see either the previous record or the new
// one, never a partial write.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore for path, creating the parent
// directory if needed. The path is resolved to an absolute path once,
// here.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("quota: empty file path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("error resolving quota file path: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("error creating quota directory: %w", err)
	}
	return &FileStore{path: abs}, nil
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(_ context.Context) (State, error) {
	var state State

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return state, ErrNoState
		}
		return state, fmt.Errorf("error reading %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return state, fmt.Errorf("%w: empty file %s", ErrCorruptState, f.path)
	}
	if err = json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return state, nil
}

func (f *FileStore) Save(_ context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err = renameio.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", f.path, err)
	}
	return nil
}
