// Package contextmgr holds the per-actor dialogue: the transcript with its anchored prefix,
// the action ledger used for repetition checks, and the token-budget trimmer.
package contextmgr

import (
	"strings"

	"civagent/pkg/agent/llm"
)

// Message is one transcript entry.
type Message = llm.CompletionMessage

// DefaultAnchorCount keeps the instruction and task prompts.
const DefaultAnchorCount = 2

// Session is the dialogue of a single actor. The first AnchorCount messages are never
// removed by trimming. A Session is owned by one worker and is not safe for concurrent use.
type Session struct {
	messages []Message
	ledger   []string
	anchors  int
}

// NewSession creates a session seeded with the given messages. Negative anchor counts are
// treated as zero.
func NewSession(anchorCount int, seed ...Message) *Session {
	if anchorCount < 0 {
		anchorCount = 0
	}
	s := &Session{anchors: anchorCount}
	s.messages = append(s.messages, seed...)
	return s
}

// AnchorCount returns the number of leading messages that survive trimming.
func (s *Session) AnchorCount() int {
	return s.anchors
}

// Append adds a message. Content is not validated.
func (s *Session) Append(role llm.CompletionRole, content string) {
	s.messages = append(s.messages, Message{Role: role, Content: content})
}

func (s *Session) AddUserMessage(content string) {
	s.Append(llm.RoleUser, content)
}

func (s *Session) AddAssistantMessage(content string) {
	s.Append(llm.RoleAssistant, content)
}

// PopLast removes and returns the last message.
func (s *Session) PopLast() (Message, bool) {
	if len(s.messages) == 0 {
		return Message{}, false
	}
	last := s.messages[len(s.messages)-1]
	s.messages = s.messages[:len(s.messages)-1]
	return last, true
}

// Last returns the last message without removing it.
func (s *Session) Last() (Message, bool) {
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// TruncateToAnchors drops everything after the anchored prefix and returns what was dropped.
func (s *Session) TruncateToAnchors() []Message {
	if len(s.messages) <= s.anchors {
		return nil
	}
	dropped := append([]Message(nil), s.messages[s.anchors:]...)
	s.messages = s.messages[:s.anchors]
	return dropped
}

// Transcript returns a copy of the messages.
func (s *Session) Transcript() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *Session) Len() int {
	return len(s.messages)
}

// RecordAction appends an entry to the action ledger.
func (s *Session) RecordAction(entry string) {
	s.ledger = append(s.ledger, entry)
}

// Ledger returns a copy of the action ledger.
func (s *Session) Ledger() []string {
	return append([]string(nil), s.ledger...)
}

// ClearLedger empties the action ledger.
func (s *Session) ClearLedger() {
	s.ledger = s.ledger[:0]
}

// RepeatedLast reports whether the last n ledger entries all match content, ignoring
// case. With prefixLen > 0 only the first prefixLen bytes of each entry are compared
// against the same prefix of content. For n <= 0 it reports whether the last entry matches.
func (s *Session) RepeatedLast(content string, n, prefixLen int) bool {
	if len(s.ledger) == 0 {
		return false
	}
	if n <= 0 {
		n = 1
	}
	if len(s.ledger) < n {
		return false
	}
	want := prefix(content, prefixLen)
	for _, entry := range s.ledger[len(s.ledger)-n:] {
		if !strings.EqualFold(prefix(entry, prefixLen), want) {
			return false
		}
	}
	return true
}

func prefix(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
