package model

import "fmt"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Message is a single chat turn. ID is its position in the conversation and
// is reassigned densely whenever messages are loaded.
type Message struct {
	ID   int    `json:"-"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Renumber assigns dense positional IDs starting at zero.
func Renumber(messages []Message) {
	for i := range messages {
		messages[i].ID = i
	}
}
