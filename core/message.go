package core

import (
	"fmt"
	"strings"
)

// Role names the author class of a message as understood by generation
// endpoints.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a wire role to a Role. Unknown roles are reported as an error
// so callers can decide whether to skip or coerce the record.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSystem:
		return RoleSystem, nil
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown message role %q", s)
	}
}

// Message is one entry of a conversation history. Concrete message types
// implement the unexported isMessage marker enabling a closed set.
type Message interface {
	Role() Role
	Text() string
	isMessage()
}

// SystemMessage carries instructions or world context.
type SystemMessage struct{ Content string }

// UserMessage carries human input or listening placeholders.
type UserMessage struct{ Content string }

// AssistantMessage carries an agent's generated contribution.
type AssistantMessage struct{ Content string }

func (SystemMessage) Role() Role    { return RoleSystem }
func (UserMessage) Role() Role      { return RoleUser }
func (AssistantMessage) Role() Role { return RoleAssistant }

func (m SystemMessage) Text() string    { return m.Content }
func (m UserMessage) Text() string      { return m.Content }
func (m AssistantMessage) Text() string { return m.Content }

func (SystemMessage) isMessage()    {}
func (UserMessage) isMessage()      {}
func (AssistantMessage) isMessage() {}

// System is shorthand for SystemMessage{Content: text}.
func System(text string) Message { return SystemMessage{Content: text} }

// User is shorthand for UserMessage{Content: text}.
func User(text string) Message { return UserMessage{Content: text} }

// Assistant is shorthand for AssistantMessage{Content: text}.
func Assistant(text string) Message { return AssistantMessage{Content: text} }

// NewMessage builds the variant matching role.
func NewMessage(role Role, text string) (Message, error) {
	switch role {
	case RoleSystem:
		return System(text), nil
	case RoleUser:
		return User(text), nil
	case RoleAssistant:
		return Assistant(text), nil
	default:
		return nil, fmt.Errorf("unknown message role %q", role)
	}
}

// MessageRecord is the storage form of a Message, matching the
// {role, content} wire and file shape.
type MessageRecord struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// ToRecord converts a Message into its storage form.
func ToRecord(m Message) MessageRecord {
	return MessageRecord{Role: string(m.Role()), Content: m.Text()}
}

// FromRecord converts a stored record into a Message. Records with an unknown
// role are rejected.
func FromRecord(r MessageRecord) (Message, error) {
	role, err := ParseRole(r.Role)
	if err != nil {
		return nil, err
	}
	return NewMessage(role, r.Content)
}

// ToRecords converts a history into storage records.
func ToRecords(msgs []Message) []MessageRecord {
	out := make([]MessageRecord, len(msgs))
	for i, m := range msgs {
		out[i] = ToRecord(m)
	}
	return out
}

// FromRecords converts storage records into messages, skipping records whose
// role cannot be mapped. The number of skipped records is returned so callers
// can log it.
func FromRecords(records []MessageRecord) ([]Message, int) {
	out := make([]Message, 0, len(records))
	skipped := 0
	for _, r := range records {
		m, err := FromRecord(r)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, m)
	}
	return out, skipped
}

// CloneMessages returns a copy of the slice. Message values are immutable so a
// shallow copy is a full snapshot.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Transcript renders messages as "role: content" lines.
func Transcript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(string(m.Role()))
		b.WriteString(": ")
		b.WriteString(m.Text())
		b.WriteString("\n")
	}
	return b.String()
}
