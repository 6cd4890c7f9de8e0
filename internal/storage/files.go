// Package storage persists tasks: the model-facing conversation and the UI
// session log as JSON documents per task, plus a SQLite index of task
// summaries used for listing.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/provider"
)

const (
	conversationFile = "api_conversation_history.json"
	uiMessagesFile   = "ui_messages.json"
	corruptSuffix    = ".corrupt"
)

var (
	// ErrNotFound means the task has no stored document.
	ErrNotFound = errors.New("task not found")
	// ErrCorrupt means a stored document could not be decoded.
	ErrCorrupt = errors.New("task storage is corrupt")
	// ErrTaskBusy means another loop already holds the task.
	ErrTaskBusy = errors.New("task is already running")
)

// FileStore keeps one directory per task under root.
type FileStore struct {
	root string

	mu     sync.Mutex
	active map[string]bool
}

// DefaultDataDir returns ~/.local/share/taskloop.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "taskloop"), nil
}

// NewFileStore creates the tasks directory under dataDir if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	root := filepath.Join(dataDir, "tasks")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create tasks directory: %w", err)
	}
	return &FileStore{root: root, active: make(map[string]bool)}, nil
}

// TaskDir returns the directory holding the task's documents.
func (s *FileStore) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

// Acquire marks taskID as owned by the caller, within this store and across
// processes through a lock file in the task directory. The returned func
// releases it.
func (s *FileStore) Acquire(taskID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[taskID] {
		return nil, fmt.Errorf("%s: %w", taskID, ErrTaskBusy)
	}
	lock, err := acquireLock(s.TaskDir(taskID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", taskID, err)
	}
	s.active[taskID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.active, taskID)
			s.mu.Unlock()
			lock.release()
		})
	}, nil
}

// SaveTurns writes the model-facing conversation.
func (s *FileStore) SaveTurns(taskID string, turns []provider.Message) error {
	if turns == nil {
		turns = []provider.Message{}
	}
	return s.writeJSON(taskID, conversationFile, turns)
}

// LoadTurns reads the model-facing conversation.
func (s *FileStore) LoadTurns(taskID string) ([]provider.Message, error) {
	var turns []provider.Message
	if err := s.readJSON(taskID, conversationFile, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// SaveEntries writes the UI session log.
func (s *FileStore) SaveEntries(taskID string, entries []channel.Entry) error {
	if entries == nil {
		entries = []channel.Entry{}
	}
	return s.writeJSON(taskID, uiMessagesFile, entries)
}

// LoadEntries reads the UI session log.
func (s *FileStore) LoadEntries(taskID string) ([]channel.Entry, error) {
	var entries []channel.Entry
	if err := s.readJSON(taskID, uiMessagesFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes every document of the task.
func (s *FileStore) Delete(taskID string) error {
	dir := s.TaskDir(taskID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", taskID, ErrNotFound)
	}
	return os.RemoveAll(dir)
}

// writeJSON replaces name atomically via a temp file and rename.
func (s *FileStore) writeJSON(taskID, name string, v any) error {
	dir := s.TaskDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) readJSON(taskID, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.TaskDir(taskID), name))
	if os.IsNotExist(err) {
		return fmt.Errorf("%s/%s: %w", taskID, name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.setAside(taskID, name)
		return fmt.Errorf("%s/%s: %w: %v", taskID, name, ErrCorrupt, err)
	}
	return nil
}

// setAside renames an undecodable document to <name>.corrupt so that the
// next save does not overwrite what could not be read.
func (s *FileStore) setAside(taskID, name string) {
	path := filepath.Join(s.TaskDir(taskID), name)
	_ = os.Rename(path, path+corruptSuffix)
}
