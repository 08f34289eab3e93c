// Package model holds the domain types shared by the stores, the cache and
// the sync manager.
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTitle is the title of a conversation nobody has written in yet.
const DefaultTitle = "New Conversation"

// maxAutoTitleRunes caps titles derived from the first message.
const maxAutoTitleRunes = 80

// Metadata is the persisted part of a conversation: everything except the
// message bodies and the process-local ID. It is what index.json stores.
type Metadata struct {
	UUID           string    `json:"uuid"`                // Durable key for storage, attachments and sync
	Title          string    `json:"title"`               // Display title
	LastInteracted time.Time `json:"lastInteracted"`      // Recency sort key and sync tie-breaker
	ModelUsed      string    `json:"modelUsed"`           // Language model identifier
	AgentUsed      *string   `json:"agentUsed,omitempty"` // Agent the conversation was started from
	IsArchived     bool      `json:"isArchived"`          // Hidden from default views
}

// Conversation is one chat session as seen by the cache.
type Conversation struct {
	ID int // Process-local list identity, never persisted
	Metadata
	Messages []Message // Chat order
}

// HasMessages reports whether the conversation has any message loaded.
func (c Conversation) HasMessages() bool {
	return len(c.Messages) > 0
}

// Clone returns a deep copy safe to hand across goroutines.
func (c Conversation) Clone() Conversation {
	out := c
	out.Metadata = c.Metadata.Clone()
	if c.Messages != nil {
		out.Messages = append([]Message(nil), c.Messages...)
	}
	return out
}

// Clone copies the metadata including the optional agent reference.
func (m Metadata) Clone() Metadata {
	out := m
	if m.AgentUsed != nil {
		agent := *m.AgentUsed
		out.AgentUsed = &agent
	}
	return out
}

// NewerThan reports whether m was interacted with strictly after other.
func (m Metadata) NewerThan(other Metadata) bool {
	return m.LastInteracted.After(other.LastInteracted)
}

// Equal reports whether m and other hold the same values.
func (m Metadata) Equal(other Metadata) bool {
	sameAgent := (m.AgentUsed == nil) == (other.AgentUsed == nil) &&
		(m.AgentUsed == nil || *m.AgentUsed == *other.AgentUsed)
	return sameAgent &&
		m.UUID == other.UUID &&
		m.Title == other.Title &&
		m.LastInteracted.Equal(other.LastInteracted) &&
		m.ModelUsed == other.ModelUsed &&
		m.IsArchived == other.IsArchived
}

// TitleFromText derives a conversation title from the first message text:
// its first non-empty line, trimmed and capped in length.
func TitleFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxAutoTitleRunes {
			runes := []rune(line)
			line = strings.TrimSpace(string(runes[:maxAutoTitleRunes-1])) + "…"
		}
		return line
	}
	return DefaultTitle
}
