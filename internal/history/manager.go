package history

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/provider"
	"github.com/apexion-ai/taskloop/internal/storage"
)

// Store persists the derived views of a task.
type Store interface {
	SaveTurns(taskID string, turns []provider.Message) error
	LoadTurns(taskID string) ([]provider.Message, error)
	SaveEntries(taskID string, entries []channel.Entry) error
	LoadEntries(taskID string) ([]channel.Entry, error)
}

// Journal receives a summary of every event appended after load.
type Journal interface {
	Record(kind string, data any)
}

// Manager owns the event log of one task. Each mutation appends an event,
// updates the derived view and persists the affected document before it
// returns.
//
// A partial session entry is held as a draft outside the log until it is
// finalized or another entry arrives, so streaming updates never reach
// storage.
type Manager struct {
	mu      sync.Mutex
	taskID  string
	store   Store
	journal Journal
	logger  *zap.Logger

	events []Event
	view   View
	draft  *channel.Entry
}

// New returns an empty manager for taskID.
func New(taskID string, store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{taskID: taskID, store: store, logger: logger}
}

// Load rebuilds a manager from stored documents. Missing documents load as
// empty. Each document is decoded on its own: when one is undecodable the
// manager still holds the readable one and Load returns it together with an
// error wrapping storage.ErrCorrupt.
func Load(taskID string, store Store, logger *zap.Logger) (*Manager, error) {
	m := New(taskID, store, logger)
	var corrupt []error

	turns, err := store.LoadTurns(taskID)
	switch {
	case err == nil, errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		corrupt = append(corrupt, fmt.Errorf("load conversation: %w", err))
	default:
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	entries, err := store.LoadEntries(taskID)
	switch {
	case err == nil, errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		corrupt = append(corrupt, fmt.Errorf("load session log: %w", err))
	default:
		return nil, fmt.Errorf("load session log: %w", err)
	}

	for i := range turns {
		m.record(Event{Kind: EventTurnAdded, Turn: &turns[i]})
	}
	for i := range entries {
		m.record(Event{Kind: EventEntryAdded, Entry: &entries[i]})
	}
	return m, errors.Join(corrupt...)
}

// SetJournal attaches an audit journal.
func (m *Manager) SetJournal(j Journal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = j
}

// TaskID returns the id of the task.
func (m *Manager) TaskID() string {
	return m.taskID
}

// record appends ev and folds it into the view. Must be called with mu held.
func (m *Manager) record(ev Event) {
	ev.Seq = len(m.events) + 1
	m.events = append(m.events, ev)
	m.view.Apply(ev)
}

// commit records ev, journals it and persists the documents it touches.
// Must be called with mu held.
func (m *Manager) commit(ev Event) error {
	m.record(ev)
	if m.journal != nil {
		m.journal.Record(string(ev.Kind), journalData(ev))
	}
	switch ev.Kind {
	case EventTurnAdded, EventTurnsTruncated, EventTurnsRewound:
		if err := m.store.SaveTurns(m.taskID, m.view.Turns); err != nil {
			m.logger.Error("persist conversation", zap.String("task", m.taskID), zap.Error(err))
			return fmt.Errorf("persist conversation: %w", err)
		}
	default:
		if err := m.store.SaveEntries(m.taskID, m.view.Entries); err != nil {
			m.logger.Error("persist session log", zap.String("task", m.taskID), zap.Error(err))
			return fmt.Errorf("persist session log: %w", err)
		}
	}
	return nil
}

func journalData(ev Event) map[string]any {
	switch {
	case ev.Turn != nil:
		return map[string]any{"role": string(ev.Turn.Role), "blocks": len(ev.Turn.Content)}
	case ev.Entry != nil:
		return map[string]any{"kind": string(ev.Entry.Type) + ":" + ev.Entry.Kind(), "ts": ev.Entry.TS}
	case ev.Kind == EventTurnsTruncated:
		return map[string]any{"start": ev.Start, "end": ev.End}
	case ev.Kind == EventEntryRemoved:
		return map[string]any{"ts": ev.TS}
	default:
		return map[string]any{"count": ev.Count}
	}
}

// ── model-facing turns ───────────────────────────────────────────────────────

// AddTurn appends a turn to the model-facing history.
func (m *Manager) AddTurn(msg provider.Message) error {
	msg.Content = append([]provider.Content(nil), msg.Content...)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit(Event{Kind: EventTurnAdded, Turn: &msg})
}

// Turns returns a copy of the model-facing history.
func (m *Manager) Turns() []provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.Message(nil), m.view.Turns...)
}

// TruncateIfNeeded halves the history when the previous request used
// enough of the context window. It reports how many turns were removed.
func (m *Manager) TruncateIfNeeded(prevTotalTokens, contextWindow int) (int, error) {
	if !ShouldTruncate(prevTotalTokens, contextWindow) {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start, end := TruncationRange(m.view.Turns)
	if end <= start {
		return 0, nil
	}
	m.logger.Info("truncating conversation",
		zap.String("task", m.taskID),
		zap.Int("tokens", prevTotalTokens),
		zap.Int("context_window", contextWindow),
		zap.Int("removed", end-start))
	return end - start, m.commit(Event{Kind: EventTurnsTruncated, Start: start, End: end})
}

// RewindTurns keeps only the first keep turns.
func (m *Manager) RewindTurns(keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := len(m.view.Turns) - keep
	if drop <= 0 {
		return nil
	}
	return m.commit(Event{Kind: EventTurnsRewound, Count: drop})
}

// ── UI-facing session log (channel.Log) ─────────────────────────────────────

// PutEntry stores e, replacing any entry with the same timestamp.
func (m *Manager) PutEntry(e channel.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.draft != nil && m.draft.TS != e.TS {
		// A newer entry arrived while the draft was still partial; keep the
		// draft as last seen.
		draft := *m.draft
		m.draft = nil
		err = m.commit(Event{Kind: EventEntryAdded, Entry: &draft})
	}

	_, exists := m.indexOf(e.TS)
	switch {
	case e.Partial && !exists:
		m.draft = &e
		return err
	case e.Partial:
		m.record(Event{Kind: EventEntryUpdated, Entry: &e})
		return err
	case m.draft != nil && m.draft.TS == e.TS:
		m.draft = nil
		return errors.Join(err, m.commit(Event{Kind: EventEntryAdded, Entry: &e}))
	case exists:
		return errors.Join(err, m.commit(Event{Kind: EventEntryUpdated, Entry: &e}))
	default:
		return errors.Join(err, m.commit(Event{Kind: EventEntryAdded, Entry: &e}))
	}
}

// LastEntry returns the newest entry, including a pending draft.
func (m *Manager) LastEntry() (channel.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft != nil {
		return *m.draft, true
	}
	if n := len(m.view.Entries); n > 0 {
		return m.view.Entries[n-1], true
	}
	return channel.Entry{}, false
}

// Entry returns the entry with timestamp ts.
func (m *Manager) Entry(ts int64) (channel.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft != nil && m.draft.TS == ts {
		return *m.draft, true
	}
	if i, ok := m.indexOf(ts); ok {
		return m.view.Entries[i], true
	}
	return channel.Entry{}, false
}

// Entries returns a copy of the session log, including a pending draft.
func (m *Manager) Entries() []channel.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]channel.Entry(nil), m.view.Entries...)
	if m.draft != nil {
		out = append(out, *m.draft)
	}
	return out
}

// RemoveEntries deletes the entries with the given timestamps.
func (m *Manager) RemoveEntries(ts ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, t := range ts {
		if m.draft != nil && m.draft.TS == t {
			m.draft = nil
			continue
		}
		if _, ok := m.indexOf(t); !ok {
			continue
		}
		errs = append(errs, m.commit(Event{Kind: EventEntryRemoved, TS: t}))
	}
	return errors.Join(errs...)
}

// Flush commits a pending draft entry as it is.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return nil
	}
	draft := *m.draft
	m.draft = nil
	return m.commit(Event{Kind: EventEntryAdded, Entry: &draft})
}

// Events returns a copy of the event log.
func (m *Manager) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// indexOf finds ts in the committed entries. Must be called with mu held.
func (m *Manager) indexOf(ts int64) (int, bool) {
	for i := len(m.view.Entries) - 1; i >= 0; i-- {
		if m.view.Entries[i].TS == ts {
			return i, true
		}
	}
	return 0, false
}
