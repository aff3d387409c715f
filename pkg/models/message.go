package models

import (
	"encoding/json"
	"time"
)

// MessagePriority orders messages by urgency.
type MessagePriority int

const (
	PriorityLow MessagePriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Message is a single item published on the coordination bus.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// Topic is the dotted topic the message was published under.
	Topic string `json:"topic"`
	// SenderID identifies the publisher (task, agent, or component name).
	SenderID string `json:"sender_id,omitempty"`
	// Payload is the message body, left opaque to the bus.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Priority is the publisher-declared urgency. Defaults to normal.
	Priority MessagePriority `json:"priority"`
	// Seq is the bus-assigned publish sequence number.
	Seq uint64 `json:"seq"`
	// PublishedAt is when the bus accepted the message.
	PublishedAt time.Time `json:"published_at"`
	// ExpiresAt is when the message stops being deliverable. Nil means it
	// never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the message's TTL has lapsed at the given time.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}
