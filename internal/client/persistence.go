package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const stateFileVersion = 1

// Persister loads and saves client state. Saves are best-effort and last-write-wins.
type Persister interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

type stateFile struct {
	Version int `yaml:"version"`
	State   `yaml:",inline"`
}

// FileStore keeps State in a YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored state, or an empty state when the file does not exist yet.
func (f *FileStore) Load(ctx context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file: %w", err)
	}

	var file stateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return State{}, fmt.Errorf("decode state file %s: %w", f.path, err)
	}
	if file.Version > stateFileVersion {
		return State{}, fmt.Errorf("state file %s has unsupported version %d", f.path, file.Version)
	}
	return file.State, nil
}

// Save writes state atomically by renaming a temporary file over the old one.
func (f *FileStore) Save(ctx context.Context, state State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(stateFile{Version: stateFileVersion, State: state})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ngpt-state-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// PersistOnChange saves every store change through p. Failures are logged and otherwise ignored.
func PersistOnChange(store *Store, p Persister, log zerolog.Logger) (unsubscribe func()) {
	return store.Subscribe(func(state State) {
		if err := p.Save(context.Background(), state); err != nil {
			log.Warn().Err(err).Msg("failed to persist conversations")
		}
	})
}
