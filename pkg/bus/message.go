// Package bus implements Amadeus's asynchronous message bus: topic broadcast,
// direct delivery, and privileged wiretaps over an in-process routing fabric.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Priority classifies a Message for consumers that want to triage their
// inbound queue. The bus itself does not reorder by priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// Message is the value type exchanged over the bus. Once sent, the sender
// has no further ownership of it; the bus is free to clone it for
// broadcast, direct delivery, and wiretap fan-out.
type Message struct {
	ID        string
	Topic     string
	Payload   any
	Source    string
	Recipient string // empty means broadcast
	Priority  Priority
	CreatedAt time.Time
}

// IsDirect reports whether the message names a recipient.
func (m Message) IsDirect() bool {
	return m.Recipient != ""
}

// Clone returns a shallow copy of m. Payload is not deep-copied; plugins
// must treat received payloads as read-only.
func (m Message) Clone() Message {
	clone := m
	return clone
}

// NewMessage constructs a broadcast message with a fresh ID.
func NewMessage(topic string, payload any, source string) Message {
	return Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Source:    source,
		Priority:  PriorityNormal,
		CreatedAt: time.Now().UTC(),
	}
}

// NewDirectMessage constructs a message addressed to a specific recipient.
func NewDirectMessage(topic string, payload any, source, recipient string) Message {
	msg := NewMessage(topic, payload, source)
	msg.Recipient = recipient
	return msg
}

// ErrorTopic returns the reserved diagnostic topic for failures originating
// from operations on topic.
func ErrorTopic(topic string) string {
	return topic + ".error"
}

// OverflowTopic returns the reserved diagnostic topic for inbox/queue
// overflow events originating from topic.
func OverflowTopic(topic string) string {
	return topic + ".overflow"
}
