package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const journalFile = "events.jsonl"

// JournalRecord is one line of a task journal.
type JournalRecord struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"ts"`
	TaskID    string    `json:"task_id"`
	Data      any       `json:"data,omitempty"`
}

// Journal appends history events of one task to a JSONL file. It is an
// audit trail; the task documents remain the source for resuming.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	taskID string
	path   string
}

// OpenJournal opens the journal of taskID for appending.
func (s *FileStore) OpenJournal(taskID string) (*Journal, error) {
	dir := s.TaskDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}
	path := filepath.Join(dir, journalFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{file: f, enc: json.NewEncoder(f), taskID: taskID, path: path}, nil
}

// Record appends one record. Write failures are ignored.
func (j *Journal) Record(kind string, data any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return
	}
	_ = j.enc.Encode(JournalRecord{
		Kind:      kind,
		Timestamp: time.Now(),
		TaskID:    j.taskID,
		Data:      data,
	})
}

// Close closes the journal file.
func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}
}

// ReadJournal returns the last n records of the task's journal (all when
// n <= 0).
func (s *FileStore) ReadJournal(taskID string, n int) ([]JournalRecord, error) {
	f, err := os.Open(filepath.Join(s.TaskDir(taskID), journalFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var records []JournalRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var r JournalRecord
		if json.Unmarshal(scanner.Bytes(), &r) == nil {
			records = append(records, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// FormatJournal renders records one per line for the terminal.
func FormatJournal(records []JournalRecord) string {
	if len(records) == 0 {
		return "No events recorded."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d events:\n", len(records))
	for _, r := range records {
		ts := r.Timestamp.Format("15:04:05")
		detail := ""
		switch d := r.Data.(type) {
		case string:
			detail = truncate(d, 80)
		case map[string]any:
			if kind, ok := d["kind"].(string); ok {
				detail = kind
			}
			if role, ok := d["role"].(string); ok {
				detail = role
			}
		case nil:
		default:
			raw, _ := json.Marshal(d)
			detail = truncate(string(raw), 80)
		}
		if detail != "" {
			fmt.Fprintf(&sb, "  %s  %-18s  %s\n", ts, r.Kind, detail)
		} else {
			fmt.Fprintf(&sb, "  %s  %s\n", ts, r.Kind)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
