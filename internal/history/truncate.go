package history

import "github.com/apexion-ai/taskloop/internal/provider"

// contextHeadroom is the minimum number of tokens left free for the next
// response.
const contextHeadroom = 40_000

// MaxAllowedTokens is the usage at which the history must shrink before the
// next request.
func MaxAllowedTokens(contextWindow int) int {
	return max(contextWindow-contextHeadroom, int(float64(contextWindow)*0.8))
}

// ShouldTruncate reports whether a request that used totalTokens leaves too
// little room in contextWindow.
func ShouldTruncate(totalTokens, contextWindow int) bool {
	return contextWindow > 0 && totalTokens >= MaxAllowedTokens(contextWindow)
}

// TruncationRange returns the half-open range of turns to drop. The first
// turn (the task) is always kept, and an even number of turns is removed
// after it so the kept tail still alternates. The range is extended when the
// first kept turn would be a user turn, since its tool results would answer
// an invocation that is gone.
func TruncationRange(turns []provider.Message) (start, end int) {
	n := len(turns)
	if n < 3 {
		return 1, 1
	}
	start = 1
	end = start + (n-1)/4*2
	if end == start {
		return start, end
	}
	for end < n && turns[end].Role != provider.RoleAssistant {
		end++
	}
	return start, end
}
