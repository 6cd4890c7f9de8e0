// Package history owns a task's conversation state. Every change is an
// event appended to a single log; the model-facing turns and the UI-facing
// session entries are both derived from that log by replay.
package history

import (
	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/provider"
)

// EventKind identifies a history event.
type EventKind string

const (
	// EventTurnAdded appends Turn to the model-facing history.
	EventTurnAdded EventKind = "turn_added"
	// EventTurnsTruncated removes turns [Start, End) of the current view.
	EventTurnsTruncated EventKind = "turns_truncated"
	// EventTurnsRewound drops the last Count turns.
	EventTurnsRewound EventKind = "turns_rewound"
	// EventEntryAdded appends Entry to the session log.
	EventEntryAdded EventKind = "entry_added"
	// EventEntryUpdated replaces the entry with Entry.TS.
	EventEntryUpdated EventKind = "entry_updated"
	// EventEntryRemoved deletes the entry with timestamp TS.
	EventEntryRemoved EventKind = "entry_removed"
)

// Event is one immutable record of the log.
type Event struct {
	Seq   int               `json:"seq"`
	Kind  EventKind         `json:"kind"`
	Turn  *provider.Message `json:"turn,omitempty"`
	Entry *channel.Entry    `json:"entry,omitempty"`
	Start int               `json:"start,omitempty"`
	End   int               `json:"end,omitempty"`
	Count int               `json:"count,omitempty"`
	TS    int64             `json:"ts,omitempty"`
}

// View is the state derived from a prefix of the log.
type View struct {
	Turns   []provider.Message
	Entries []channel.Entry
}

// Apply folds one event into the view.
func (v *View) Apply(ev Event) {
	switch ev.Kind {
	case EventTurnAdded:
		v.Turns = append(v.Turns, *ev.Turn)
	case EventTurnsTruncated:
		if ev.Start < 0 || ev.End > len(v.Turns) || ev.Start >= ev.End {
			return
		}
		v.Turns = append(v.Turns[:ev.Start:ev.Start], v.Turns[ev.End:]...)
	case EventTurnsRewound:
		n := min(ev.Count, len(v.Turns))
		v.Turns = v.Turns[:len(v.Turns)-n : len(v.Turns)-n]
	case EventEntryAdded:
		v.Entries = append(v.Entries, *ev.Entry)
	case EventEntryUpdated:
		for i := range v.Entries {
			if v.Entries[i].TS == ev.Entry.TS {
				v.Entries[i] = *ev.Entry
				return
			}
		}
	case EventEntryRemoved:
		for i := range v.Entries {
			if v.Entries[i].TS == ev.TS {
				v.Entries = append(v.Entries[:i:i], v.Entries[i+1:]...)
				return
			}
		}
	}
}

// Replay derives the view of a whole log.
func Replay(events []Event) View {
	var v View
	for _, ev := range events {
		v.Apply(ev)
	}
	return v
}
