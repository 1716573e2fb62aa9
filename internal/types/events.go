package types

import (
	"sync"
	"time"
)

// EventType labels a lifecycle notification.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventInputProcessed   EventType = "input_processed"
	EventProposalApproved EventType = "proposal_approved"
	EventSessionExecuting EventType = "session_executing"
	EventSessionCompleted EventType = "session_completed"
	EventSessionCancelled EventType = "session_cancelled"
	EventDecisionMade     EventType = "decision_made"
	EventTriggerFired     EventType = "trigger_fired"
)

// Event is a typed lifecycle notification published for external consumers
// (voice, email, UI layers). The core never depends on subscriber behavior:
// delivery is synchronous and best-effort, and a missing notifier is a no-op.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Role      Role      `json:"role,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Notifier receives lifecycle events. Implementations must not call back
// into the coordinator from Notify.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to the Notifier contract.
type NotifierFunc func(ev Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ev Event) { f(ev) }

// NopNotifier discards all events.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(Event) {}

// FanoutNotifier delivers each event to every registered subscriber, in
// registration order. Safe for concurrent Subscribe/Notify.
type FanoutNotifier struct {
	mu   sync.RWMutex
	subs []Notifier
}

// NewFanoutNotifier creates a fan-out with the given initial subscribers.
func NewFanoutNotifier(subs ...Notifier) *FanoutNotifier {
	return &FanoutNotifier{subs: subs}
}

// Subscribe registers an additional subscriber.
func (f *FanoutNotifier) Subscribe(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, n)
}

// Notify implements Notifier.
func (f *FanoutNotifier) Notify(ev Event) {
	f.mu.RLock()
	subs := append([]Notifier(nil), f.subs...)
	f.mu.RUnlock()
	for _, s := range subs {
		s.Notify(ev)
	}
}

// ChannelNotifier pushes events onto a buffered channel, dropping when the
// consumer falls behind. Drop-not-block keeps slow subscribers from stalling
// session input processing.
type ChannelNotifier struct {
	ch chan Event
}

// NewChannelNotifier creates a channel notifier with the given buffer size.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelNotifier{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the channel.
func (c *ChannelNotifier) Events() <-chan Event { return c.ch }

// Notify implements Notifier.
func (c *ChannelNotifier) Notify(ev Event) {
	select {
	case c.ch <- ev:
	default:
	}
}
