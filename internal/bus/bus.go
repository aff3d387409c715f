// Package bus is the in-process coordination message bus. Publishing never
// blocks: a subscriber whose queue is full loses the message and its drop
// counter is incremented, so one slow consumer cannot stall the engine.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ecrowe/taskforge/pkg/models"
)

// DefaultHistoryLimit bounds the per-topic replay buffer.
const DefaultHistoryLimit = 100

// ErrClosed is returned for operations on a closed bus.
var ErrClosed = errors.New("message bus is closed")

// Subscription is one subscriber's queue on a topic pattern.
type Subscription struct {
	// Subscriber names the consumer, for stats and logs.
	Subscriber string
	// Pattern is the topic pattern the subscription matches.
	Pattern string

	ch      chan models.Message
	dropped atomic.Uint64
	closed  bool
}

// Messages returns the subscription's delivery channel. It is closed when
// the subscription is cancelled or the bus shuts down.
func (s *Subscription) Messages() <-chan models.Message {
	return s.ch
}

// Dropped returns how many messages this subscription has lost to a full
// queue.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	// Published counts every accepted publish.
	Published uint64
	// Delivered counts successful queue insertions across subscribers.
	Delivered uint64
	// Dropped maps subscriber name to messages lost to a full queue.
	Dropped map[string]uint64
	// Subscribers is the live subscription count.
	Subscribers int
}

// Bus routes messages from publishers to pattern subscribers.
type Bus struct {
	mu           sync.Mutex
	subs         []*Subscription
	history      map[string][]models.Message
	historyLimit int
	seq          uint64
	published    uint64
	delivered    uint64
	closed       bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryLimit overrides the per-topic replay buffer size.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) { b.historyLimit = n }
}

// New creates a message bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		history:      make(map[string][]models.Message),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a consumer on a topic pattern with a bounded queue.
// Pattern matching is by dotted segment: "task.*.done" matches one segment
// at the wildcard position, and the bare pattern "*" matches every topic.
func (b *Bus) Subscribe(pattern, subscriber string, queueSize int) (*Subscription, error) {
	if queueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d", queueSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &Subscription{
		Subscriber: subscriber,
		Pattern:    pattern,
		ch:         make(chan models.Message, queueSize),
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// PublishOption adjusts one message at publish time.
type PublishOption func(*models.Message)

// WithPriority sets the message priority; the default is normal.
func WithPriority(p models.MessagePriority) PublishOption {
	return func(m *models.Message) { m.Priority = p }
}

// WithTTL expires the message after the given duration. Expired messages
// are not delivered and drop out of replay history.
func WithTTL(ttl time.Duration) PublishOption {
	return func(m *models.Message) {
		expires := m.PublishedAt.Add(ttl)
		m.ExpiresAt = &expires
	}
}

// Publish delivers a message to every matching subscriber without blocking.
// A subscriber whose queue is full loses the message; its drop counter is
// incremented and a rate-limited warning is logged.
func (b *Bus) Publish(topic, senderID string, payload any, opts ...PublishOption) (models.Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return models.Message{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return models.Message{}, ErrClosed
	}

	b.seq++
	now := time.Now()
	msg := models.Message{
		ID:          uuid.New().String(),
		Topic:       topic,
		SenderID:    senderID,
		Payload:     raw,
		Priority:    models.PriorityNormal,
		Seq:         b.seq,
		PublishedAt: now,
	}
	for _, opt := range opts {
		opt(&msg)
	}
	b.published++

	hist := b.history[topic][:0:len(b.history[topic])]
	for _, m := range b.history[topic] {
		if !m.Expired(now) {
			hist = append(hist, m)
		}
	}
	hist = append(hist, msg)
	if len(hist) > b.historyLimit {
		hist = hist[len(hist)-b.historyLimit:]
	}
	b.history[topic] = hist

	if msg.Expired(now) {
		return msg, nil
	}
	for _, sub := range b.subs {
		if !topicMatches(sub.Pattern, topic) {
			continue
		}
		select {
		case sub.ch <- msg:
			b.delivered++
		default:
			count := sub.dropped.Add(1)
			if count%10 == 1 { // log every 10th drop to avoid spam
				log.Printf("[bus] WARNING: subscriber %s queue full, dropped message on %s (total dropped: %d)",
					sub.Subscriber, topic, count)
			}
		}
	}
	return msg, nil
}

// History returns up to n most recent unexpired messages on a topic, oldest
// first. n <= 0 returns the full retained buffer.
func (b *Bus) History(topic string, n int) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var out []models.Message
	for _, m := range b.history[topic] {
		if !m.Expired(now) {
			out = append(out, m)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := make(map[string]uint64, len(b.subs))
	for _, sub := range b.subs {
		dropped[sub.Subscriber] += sub.dropped.Load()
	}
	return Stats{
		Published:   b.published,
		Delivered:   b.delivered,
		Dropped:     dropped,
		Subscribers: len(b.subs),
	}
}

// Close shuts the bus down and closes every subscription channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.subs = nil
}

// topicMatches implements segment-wise pattern matching. "*" alone matches
// every topic; inside a dotted pattern each "*" matches exactly one segment.
func topicMatches(pattern, topic string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	ps := strings.Split(pattern, ".")
	ts := strings.Split(topic, ".")
	if len(ps) != len(ts) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != ts[i] {
			return false
		}
	}
	return true
}
