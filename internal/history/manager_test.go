package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/provider"
	"github.com/apexion-ai/taskloop/internal/storage"
)

type memStore struct {
	mu       sync.Mutex
	turns    map[string][]provider.Message
	entries  map[string][]channel.Entry
	saves    int
	loadErr  error
	failSave error
}

func newMemStore() *memStore {
	return &memStore{
		turns:   make(map[string][]provider.Message),
		entries: make(map[string][]channel.Entry),
	}
}

func (s *memStore) SaveTurns(id string, turns []provider.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.saves++
	s.turns[id] = append([]provider.Message(nil), turns...)
	return nil
}

func (s *memStore) LoadTurns(id string) ([]provider.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	t, ok := s.turns[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]provider.Message(nil), t...), nil
}

func (s *memStore) SaveEntries(id string, entries []channel.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.saves++
	s.entries[id] = append([]channel.Entry(nil), entries...)
	return nil
}

func (s *memStore) LoadEntries(id string) ([]channel.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]channel.Entry(nil), e...), nil
}

type recordingJournal struct {
	kinds []string
}

func (j *recordingJournal) Record(kind string, _ any) {
	j.kinds = append(j.kinds, kind)
}

func say(ts int64, kind channel.SayKind, text string, partial bool) channel.Entry {
	return channel.Entry{TS: ts, Type: channel.TypeSay, Say: kind, Text: text, Partial: partial}
}

func ask(ts int64, kind channel.AskKind, text string) channel.Entry {
	return channel.Entry{TS: ts, Type: channel.TypeAsk, Ask: kind, Text: text}
}

func TestAddTurnPersists(t *testing.T) {
	store := newMemStore()
	m := New("t1", store, nil)

	require.NoError(t, m.AddTurn(provider.Message{Role: provider.RoleUser, Content: []provider.Content{provider.TextContent("hi")}}))
	require.NoError(t, m.AddTurn(provider.Message{Role: provider.RoleAssistant, Content: []provider.Content{provider.TextContent("hello")}}))

	assert.Len(t, store.turns["t1"], 2)
	assert.Equal(t, m.Turns(), store.turns["t1"])
}

func TestAddTurnCopiesContent(t *testing.T) {
	m := New("t1", newMemStore(), nil)
	content := []provider.Content{provider.TextContent("a")}
	require.NoError(t, m.AddTurn(provider.Message{Role: provider.RoleUser, Content: content}))
	content[0].Text = "mutated"
	assert.Equal(t, "a", m.Turns()[0].Content[0].Text)
}

func TestPartialEntriesStayInDraft(t *testing.T) {
	store := newMemStore()
	m := New("t1", store, nil)

	require.NoError(t, m.PutEntry(say(1, channel.SayText, "Hel", true)))
	require.NoError(t, m.PutEntry(say(1, channel.SayText, "Hello wor", true)))

	assert.Empty(t, store.entries["t1"], "partial entries are not persisted")
	assert.Empty(t, m.Events())
	last, ok := m.LastEntry()
	require.True(t, ok)
	assert.Equal(t, "Hello wor", last.Text)

	require.NoError(t, m.PutEntry(say(1, channel.SayText, "Hello world", false)))
	require.Len(t, store.entries["t1"], 1)
	assert.Equal(t, "Hello world", store.entries["t1"][0].Text)
	assert.False(t, store.entries["t1"][0].Partial)
	assert.Len(t, m.Events(), 1)
}

func TestDraftCommittedWhenAnotherEntryArrives(t *testing.T) {
	store := newMemStore()
	m := New("t1", store, nil)

	require.NoError(t, m.PutEntry(say(1, channel.SayText, "half", true)))
	require.NoError(t, m.PutEntry(say(2, channel.SayAPIReqStarted, "{}", false)))

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].TS)
	assert.True(t, entries[0].Partial)
	assert.Equal(t, int64(2), entries[1].TS)
	assert.Len(t, store.entries["t1"], 2)
}

func TestUpdateCommittedEntry(t *testing.T) {
	store := newMemStore()
	m := New("t1", store, nil)
	require.NoError(t, m.PutEntry(say(1, channel.SayAPIReqStarted, `{"request":"x"}`, false)))
	require.NoError(t, m.PutEntry(say(2, channel.SayText, "done", false)))
	require.NoError(t, m.PutEntry(say(1, channel.SayAPIReqStarted, `{"request":"x","tokensIn":5}`, false)))

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, `{"request":"x","tokensIn":5}`, entries[0].Text)
	assert.Equal(t, entries, store.entries["t1"])
}

func TestEntryLookup(t *testing.T) {
	m := New("t1", newMemStore(), nil)
	_, ok := m.LastEntry()
	assert.False(t, ok)

	require.NoError(t, m.PutEntry(say(1, channel.SayText, "a", false)))
	require.NoError(t, m.PutEntry(say(2, channel.SayText, "b", true)))

	e, ok := m.Entry(1)
	require.True(t, ok)
	assert.Equal(t, "a", e.Text)
	e, ok = m.Entry(2)
	require.True(t, ok)
	assert.Equal(t, "b", e.Text)
	_, ok = m.Entry(3)
	assert.False(t, ok)
}

func TestReplayMatchesViews(t *testing.T) {
	m := New("t1", newMemStore(), nil)
	require.NoError(t, m.AddTurn(provider.Message{Role: provider.RoleUser, Content: []provider.Content{provider.TextContent("task")}}))
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, m.PutEntry(say(i, channel.SayText, fmt.Sprint(i), false)))
	}
	require.NoError(t, m.RemoveEntries(2, 4))
	require.NoError(t, m.AddTurn(provider.Message{Role: provider.RoleAssistant, Content: []provider.Content{provider.TextContent("ok")}}))
	require.NoError(t, m.RewindTurns(1))

	v := Replay(m.Events())
	assert.Equal(t, m.Turns(), v.Turns)
	assert.Equal(t, m.Entries(), v.Entries)

	events := m.Events()
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func TestLoadRebuildsState(t *testing.T) {
	store := newMemStore()
	m := New("t1", store, nil)
	require.NoError(t, m.AddTurn(provider.Message{Role: provider.RoleUser, Content: []provider.Content{provider.TextContent("task")}}))
	require.NoError(t, m.PutEntry(say(10, channel.SayTask, "task", false)))

	loaded, err := Load("t1", store, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Turns(), loaded.Turns())
	assert.Equal(t, m.Entries(), loaded.Entries())
}

func TestLoadMissingIsEmpty(t *testing.T) {
	m, err := Load("nope", newMemStore(), nil)
	require.NoError(t, err)
	assert.Empty(t, m.Turns())
	assert.Empty(t, m.Entries())
}

func TestLoadCorrupt(t *testing.T) {
	store := newMemStore()
	store.loadErr = fmt.Errorf("decode: %w", storage.ErrCorrupt)
	_, err := Load("t1", store, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrCorrupt)
}

func TestLoadKeepsReadableDocument(t *testing.T) {
	store := newMemStore()
	store.entries["t1"] = []channel.Entry{say(10, channel.SayTask, "task", false)}
	store.loadErr = fmt.Errorf("decode: %w", storage.ErrCorrupt)

	m, err := Load("t1", store, nil)
	require.ErrorIs(t, err, storage.ErrCorrupt)
	require.NotNil(t, m)
	assert.Empty(t, m.Turns())
	require.Len(t, m.Entries(), 1)
	assert.Equal(t, "task", m.Entries()[0].Text)
}

func TestLoadStoreFailure(t *testing.T) {
	store := newMemStore()
	store.loadErr = fmt.Errorf("permission denied")
	m, err := Load("t1", store, nil)
	require.Error(t, err)
	assert.Nil(t, m)
}

func TestPersistFailureIsReturned(t *testing.T) {
	store := newMemStore()
	store.failSave = fmt.Errorf("disk full")
	m := New("t1", store, nil)
	err := m.AddTurn(provider.Message{Role: provider.RoleUser})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestJournalReceivesCommittedEvents(t *testing.T) {
	j := &recordingJournal{}
	m := New("t1", newMemStore(), nil)
	m.SetJournal(j)

	require.NoError(t, m.PutEntry(say(1, channel.SayText, "a", true)))
	require.NoError(t, m.PutEntry(say(1, channel.SayText, "ab", false)))
	require.NoError(t, m.AddTurn(provider.Message{Role: provider.RoleUser}))

	assert.Equal(t, []string{"entry_added", "turn_added"}, j.kinds)
}

func TestFileStoreBackedManager(t *testing.T) {
	fs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m := New("t1", fs, nil)
	require.NoError(t, m.AddTurn(provider.Message{Role: provider.RoleUser, Content: []provider.Content{provider.TextContent("task")}}))
	require.NoError(t, m.PutEntry(ask(5, channel.AskFollowup, "which file?")))

	loaded, err := Load("t1", fs, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Turns(), loaded.Turns())
	assert.Equal(t, m.Entries(), loaded.Entries())
}
