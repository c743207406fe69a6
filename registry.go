package realtime

import "sync/atomic"

// maxPendingPerTopic bounds the messages held for a subscription whose
// arm is not yet acknowledged.
const maxPendingPerTopic = 256

// MessageHandler handles messages delivered for a topic.
type MessageHandler func(msg *Message)

// Subscription is a registered topic handler.
type Subscription struct {
	Topic   string
	Handler MessageHandler

	// Active is true once the topic is armed on the current connection.
	Active bool

	// receipt is the acknowledgement the arm is waiting for.
	receipt string
	// pending holds messages that arrived before the acknowledgement.
	pending []Inbound
}

// awaitingAck reports whether the subscription has an unacknowledged arm.
func (s *Subscription) awaitingAck() bool {
	return s.receipt != ""
}

// SubscriptionRegistry maps topic names to handlers in insertion order.
// It is owned by a single client event loop and is not safe for concurrent use,
// except for Dropped.
type SubscriptionRegistry struct {
	entries []*Subscription
	index   map[string]*Subscription
	dropped atomic.Uint64
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		index: make(map[string]*Subscription),
	}
}

// Put registers handler for topic. Re-registering a topic replaces its
// handler and keeps its original position. existed reports a replacement.
func (r *SubscriptionRegistry) Put(topic string, handler MessageHandler) (sub *Subscription, existed bool) {
	if sub, ok := r.index[topic]; ok {
		sub.Handler = handler
		return sub, true
	}

	sub = &Subscription{Topic: topic, Handler: handler}
	r.entries = append(r.entries, sub)
	r.index[topic] = sub

	return sub, false
}

// Remove deletes topic and returns the removed entry, or nil if unknown.
func (r *SubscriptionRegistry) Remove(topic string) *Subscription {
	sub, ok := r.index[topic]
	if !ok {
		return nil
	}

	delete(r.index, topic)
	for i, e := range r.entries {
		if e == sub {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}

	return sub
}

// Get returns the subscription for topic.
func (r *SubscriptionRegistry) Get(topic string) (*Subscription, bool) {
	sub, ok := r.index[topic]
	return sub, ok
}

// Entries returns the subscriptions in insertion order.
func (r *SubscriptionRegistry) Entries() []*Subscription {
	out := make([]*Subscription, len(r.entries))
	copy(out, r.entries)
	return out
}

// Topics returns the registered topics in insertion order.
func (r *SubscriptionRegistry) Topics() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Topic
	}
	return out
}

// Len returns the number of subscriptions.
func (r *SubscriptionRegistry) Len() int {
	return len(r.entries)
}

// Acknowledge activates the subscription waiting for receipt and returns
// it together with the messages held while it was pending.
func (r *SubscriptionRegistry) Acknowledge(receipt string) (*Subscription, []Inbound) {
	if receipt == "" {
		return nil, nil
	}

	for _, sub := range r.entries {
		if sub.receipt != receipt {
			continue
		}

		held := sub.pending
		sub.receipt = ""
		sub.pending = nil
		sub.Active = true

		return sub, held
	}

	return nil, nil
}

// Hold queues in for a subscription awaiting its acknowledgement.
// It returns false when the queue is full and the message is dropped.
func (r *SubscriptionRegistry) Hold(sub *Subscription, in Inbound) bool {
	if len(sub.pending) >= maxPendingPerTopic {
		r.dropped.Add(1)
		return false
	}
	sub.pending = append(sub.pending, in)
	return true
}

// Deactivate marks every subscription as not armed, as after a lost
// connection. Held messages are discarded, counted as dropped and their
// number returned.
func (r *SubscriptionRegistry) Deactivate() int {
	dropped := 0
	for _, sub := range r.entries {
		dropped += len(sub.pending)
		sub.Active = false
		sub.receipt = ""
		sub.pending = nil
	}
	if dropped > 0 {
		r.dropped.Add(uint64(dropped))
	}
	return dropped
}

// arming records that sub was armed and now waits for receipt.
// An empty receipt activates it immediately.
func (r *SubscriptionRegistry) arming(sub *Subscription, receipt string) {
	if receipt == "" {
		sub.Active = true
		return
	}
	sub.receipt = receipt
}

// Drop counts a message that had no matching subscription.
func (r *SubscriptionRegistry) Drop() {
	r.dropped.Add(1)
}

// Dropped returns the number of dropped messages. Safe for concurrent use.
func (r *SubscriptionRegistry) Dropped() uint64 {
	return r.dropped.Load()
}
