package coremodel

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is a closed enumeration of the kinds of message a
// channel can carry.
type MessageType string

const (
	MessageChat   MessageType = "chat"
	MessageSystem MessageType = "system"
	MessageTask   MessageType = "task"
	MessageStatus MessageType = "status"
)

// NewMessageID generates a globally unique message id in the
// "msg_<uuid>" form the spec requires. Reuse of an id by any component
// is a bug.
func NewMessageID() string {
	return "msg_" + uuid.Must(uuid.NewV7()).String()
}

// Reaction records one entity's reaction to a message.
type Reaction struct {
	EntityID string
	Emoji    string
	AddedAt  time.Time
}

// Message is the unit of conversation. Messages are created only on
// the Channel Service's send path; every other component treats them
// as read-only values obtained via events or get_messages.
type Message struct {
	ID              string
	ChannelID       string
	SenderID        string
	Content         string
	Type            MessageType
	Timestamp       time.Time
	Metadata        map[string]any
	ParentMessageID string // empty if not a reply
	Reactions       []Reaction
	Edited          bool
	EditedAt        time.Time
}

// Copy returns an independently-owned copy of m.
func (m Message) Copy() Message {
	out := m
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	return out
}
