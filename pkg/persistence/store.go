// Package persistence saves actor dialogues for audit and debugging: as JSON-lines files,
// as rows in SQLite, or both.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"civagent/pkg/agent/llm"
)

// TimestampLayout formats the save time in dialogue names.
const TimestampLayout = "2006.01.02_15-04-05"

// TranscriptStore persists a finished dialogue under name.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, sessionID, name string, msgs []llm.CompletionMessage) error
}

// DialogueName names the dump of actor's dialogue for turn.
func DialogueName(turn int, actor string, at time.Time) string {
	return fmt.Sprintf("dialogue_T%03d_%s_at_%s.txt", turn, sanitize(actor), at.Format(TimestampLayout))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, s)
}

// MultiStore saves to every store and joins their errors.
type MultiStore []TranscriptStore

// SaveTranscript implements TranscriptStore.
func (m MultiStore) SaveTranscript(ctx context.Context, sessionID, name string, msgs []llm.CompletionMessage) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveTranscript(ctx, sessionID, name, msgs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// record is the stored form of one message.
type record struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
