package agent

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/apexion-ai/taskloop/internal/provider"
)

// doomLoopAction is the action recommended by the doom loop detector.
type doomLoopAction int

const (
	doomLoopNone doomLoopAction = iota
	doomLoopWarn
	doomLoopStop
)

const (
	doomLoopWarnThreshold = 3
	doomLoopStopThreshold = 5
)

// doomLoopDetector tracks consecutive responses that invoke exactly the
// same tools with the same parameters.
type doomLoopDetector struct {
	lastSig string
	streak  int
}

// check evaluates the tool_use blocks of one response. A response without
// tool use resets the streak.
func (d *doomLoopDetector) check(uses []provider.Content) doomLoopAction {
	if len(uses) == 0 {
		d.lastSig = ""
		d.streak = 0
		return doomLoopNone
	}
	sig := batchSignature(uses)
	if sig == d.lastSig {
		d.streak++
	} else {
		d.lastSig = sig
		d.streak = 1
	}

	switch {
	case d.streak >= doomLoopStopThreshold:
		return doomLoopStop
	case d.streak >= doomLoopWarnThreshold:
		return doomLoopWarn
	default:
		return doomLoopNone
	}
}

// batchSignature hashes the names and inputs of a batch. Parameter order
// does not matter; invocation order does not either.
func batchSignature(uses []provider.Content) string {
	parts := make([]string, len(uses))
	for i, u := range uses {
		keys := make([]string, 0, len(u.ToolInput))
		for k := range u.ToolInput {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString(u.ToolName)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\x00%s=%s", k, u.ToolInput[k])
		}
		parts[i] = sb.String()
	}
	sort.Strings(parts)
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", h)
}

func repeatedToolNotice(streak int) string {
	return fmt.Sprintf("[NOTICE] You have made the same tool call %d times in a row with identical parameters. "+
		"The result will not change. Try a different approach, or use ask_followup_question if you are stuck.", streak)
}
