package history

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexion-ai/taskloop/internal/provider"
)

func TestShouldTruncate(t *testing.T) {
	tests := []struct {
		total, window int
		want          bool
	}{
		{total: 0, window: 200_000, want: false},
		{total: 159_999, window: 200_000, want: false},
		{total: 160_000, window: 200_000, want: true},
		{total: 88_000, window: 128_000, want: false},
		{total: 102_400, window: 128_000, want: true},
		{total: 24_000, window: 64_000, want: false},
		{total: 51_200, window: 64_000, want: true},
		{total: 1_000_000, window: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.total, tt.window), func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTruncate(tt.total, tt.window))
		})
	}
}

func TestMaxAllowedTokens(t *testing.T) {
	assert.Equal(t, 160_000, MaxAllowedTokens(200_000))
	assert.Equal(t, 960_000, MaxAllowedTokens(1_000_000))
}

func TestTruncationRangeSmallHistory(t *testing.T) {
	for n := 0; n < 5; n++ {
		start, end := TruncationRange(genHistory(rand.New(rand.NewSource(1)), n))
		assert.Equal(t, start, end, "n=%d", n)
	}
}

func TestTruncationRangeKeepsTask(t *testing.T) {
	turns := genHistory(rand.New(rand.NewSource(2)), 9)
	start, end := TruncationRange(turns)
	assert.Equal(t, 1, start)
	assert.Equal(t, 5, end)
}

// Any history of at least five turns stays well formed after truncation:
// the task survives and every kept tool result answers a kept invocation.
func TestTruncationSafety(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		n := 5 + rng.Intn(40)
		turns := genHistory(rng, n)

		start, end := TruncationRange(turns)
		require.Equal(t, 1, start)
		require.Greater(t, end, start, "n=%d", n)
		require.Zero(t, (end-start)%2, "n=%d", n)

		var v View
		for i := range turns {
			v.Apply(Event{Kind: EventTurnAdded, Turn: &turns[i]})
		}
		v.Apply(Event{Kind: EventTurnsTruncated, Start: start, End: end})

		require.Equal(t, turns[0], v.Turns[0])
		assertWellFormed(t, v.Turns)
	}
}

func TestTruncateIfNeeded(t *testing.T) {
	store := newMemStore()
	m := New("t1", store, nil)
	for _, turn := range genHistory(rand.New(rand.NewSource(3)), 9) {
		require.NoError(t, m.AddTurn(turn))
	}

	removed, err := m.TruncateIfNeeded(10_000, 200_000)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Len(t, m.Turns(), 9)

	removed, err = m.TruncateIfNeeded(170_000, 200_000)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
	assert.Len(t, m.Turns(), 5)
	assert.Len(t, store.turns["t1"], 5)
	assertWellFormed(t, m.Turns())
}

// genHistory builds an alternating history of n turns starting with the task.
// Assistant turns invoke up to three tools; the following user turn answers
// each of them.
func genHistory(rng *rand.Rand, n int) []provider.Message {
	var turns []provider.Message
	var pending []provider.Content
	id := 0
	for i := 0; i < n; i++ {
		if i == 0 {
			turns = append(turns, provider.Message{Role: provider.RoleUser, Content: []provider.Content{provider.TextContent("<task>do it</task>")}})
			continue
		}
		if i%2 == 1 {
			msg := provider.Message{Role: provider.RoleAssistant, Content: []provider.Content{provider.TextContent("thinking")}}
			pending = nil
			for k := rng.Intn(4); k > 0; k-- {
				id++
				use := provider.Content{Type: provider.ContentTypeToolUse, ToolUseID: fmt.Sprintf("call_%d", id), ToolName: "read_file"}
				msg.Content = append(msg.Content, use)
				pending = append(pending, use)
			}
			turns = append(turns, msg)
			continue
		}
		msg := provider.Message{Role: provider.RoleUser}
		for _, use := range pending {
			msg.Content = append(msg.Content, provider.ToolResultContent(use.ToolUseID, use.ToolName, "ok", false))
		}
		if len(msg.Content) == 0 {
			msg.Content = append(msg.Content, provider.TextContent("continue"))
		}
		turns = append(turns, msg)
	}
	return turns
}

func assertWellFormed(t *testing.T, turns []provider.Message) {
	t.Helper()
	for i, turn := range turns {
		results := turn.ToolResults()
		if len(results) == 0 {
			continue
		}
		require.Equal(t, provider.RoleUser, turn.Role)
		require.Greater(t, i, 0, "tool result in first turn")
		prev := turns[i-1]
		require.Equal(t, provider.RoleAssistant, prev.Role, "turn %d", i)
		ids := make(map[string]bool)
		for _, use := range prev.ToolUses() {
			ids[use.ToolUseID] = true
		}
		for _, res := range results {
			require.True(t, ids[res.ToolUseID], "orphan result %s at turn %d", res.ToolUseID, i)
		}
	}
}
