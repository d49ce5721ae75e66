package bus

import (
	"sync"
)

// lagTolerance is the default buffer depth for a broadcast subscriber.
// Exceeding it does not block the router; the subscriber is simply dropped
// from behind and must detect the gap itself on its next receive.
const lagTolerance = 256

// directInboxCapacity is the default buffer depth for a plugin's direct
// inbox once it opts in via enable_direct_messaging.
const directInboxCapacity = 64

// errorTopicCapacity bounds the reserved <topic>.error / <topic>.overflow
// channels. These use drop-oldest on overflow so that a storm of
// diagnostic events can never itself exhaust memory or recurse.
const errorTopicCapacity = 64

// DistributionCenter is the routing fabric shared by every plugin in a
// registry. It owns per-topic broadcast channels, per-plugin direct
// inboxes, and the list of privileged wiretaps.
type DistributionCenter struct {
	mu       sync.RWMutex
	topics   map[string]*topicChannel
	direct   map[string]chan Message
	wiretaps []chan Message
}

type topicChannel struct {
	mu   sync.Mutex
	subs []chan Message
}

// NewDistributionCenter creates an empty routing fabric.
func NewDistributionCenter() *DistributionCenter {
	return &DistributionCenter{
		topics: make(map[string]*topicChannel),
		direct: make(map[string]chan Message),
	}
}

func isReservedDiagnosticTopic(topic string) bool {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] != '.' {
			continue
		}
		suffix := topic[i:]
		if suffix == ".error" || suffix == ".overflow" {
			return true
		}
	}
	return false
}

func newTopicSubscriber(topic string) chan Message {
	if isReservedDiagnosticTopic(topic) {
		return make(chan Message, errorTopicCapacity)
	}
	return make(chan Message, lagTolerance)
}

// Subscribe lazily creates the topic's broadcast channel if absent and
// returns a fresh, independent receiver. A new subscriber never observes
// messages published before it subscribed.
func (d *DistributionCenter) Subscribe(topic string) <-chan Message {
	d.mu.Lock()
	tc, ok := d.topics[topic]
	if !ok {
		tc = &topicChannel{}
		d.topics[topic] = tc
	}
	d.mu.Unlock()

	sub := newTopicSubscriber(topic)
	tc.mu.Lock()
	tc.subs = append(tc.subs, sub)
	tc.mu.Unlock()
	return sub
}

// EnableDirect creates (or returns the existing) bounded inbox for
// pluginID. Idempotent: repeated calls for the same identity return the
// same receiver.
func (d *DistributionCenter) EnableDirect(pluginID string) <-chan Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.direct[pluginID]; ok {
		return ch
	}
	ch := make(chan Message, directInboxCapacity)
	d.direct[pluginID] = ch
	return ch
}

// RegisterWiretap returns a receiver observing every broadcast message
// regardless of topic. Wiretaps never observe direct messages. Callers
// must have already checked the plugin is Privileged; the distribution
// center itself enforces no privilege (see MessageContext.SubscribeAll).
func (d *DistributionCenter) RegisterWiretap() <-chan Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan Message, lagTolerance)
	d.wiretaps = append(d.wiretaps, ch)
	return ch
}

// Distribute routes msg to its subscribers. Direct messages go through
// SendDirect; broadcast messages fan out to the topic's subscribers (the
// topic channel is created on first use if no subscriber exists yet, so
// the message is silently dropped — acceptable by design) and to every
// wiretap.
func (d *DistributionCenter) Distribute(msg Message) error {
	if msg.IsDirect() {
		return d.SendDirect(msg)
	}

	d.mu.Lock()
	tc, ok := d.topics[msg.Topic]
	if !ok {
		tc = &topicChannel{}
		d.topics[msg.Topic] = tc
	}
	wiretaps := d.wiretaps
	d.mu.Unlock()

	send := nonBlockingSend
	if isReservedDiagnosticTopic(msg.Topic) {
		send = dropOldestSend
	}
	tc.mu.Lock()
	for _, sub := range tc.subs {
		send(sub, msg)
	}
	tc.mu.Unlock()

	for _, wt := range wiretaps {
		nonBlockingSend(wt, msg)
	}
	return nil
}

// SendDirect routes msg to its named recipient's inbox. Requires
// msg.Recipient to be set. If no plugin has opted into direct messaging
// under that identity, it returns ErrUnknownRecipient. If the inbox is
// full, the message is dropped and an overflow diagnostic is emitted on
// msg.Topic's reserved overflow topic (drop-newest-and-report policy).
func (d *DistributionCenter) SendDirect(msg Message) error {
	if !msg.IsDirect() {
		return ErrMissingRecipient
	}

	d.mu.RLock()
	inbox, ok := d.direct[msg.Recipient]
	d.mu.RUnlock()
	if !ok {
		return ErrUnknownRecipient
	}

	select {
	case inbox <- msg:
		return nil
	default:
		d.emitOverflow(msg)
		return ErrDirectInboxFull
	}
}

func (d *DistributionCenter) emitOverflow(msg Message) {
	overflow := Message{
		ID:        msg.ID,
		Topic:     OverflowTopic(msg.Topic),
		Payload:   map[string]any{"dropped_recipient": msg.Recipient, "dropped_id": msg.ID},
		Source:    "bus",
		Priority:  PriorityHigh,
		CreatedAt: msg.CreatedAt,
	}

	d.mu.Lock()
	tc, ok := d.topics[overflow.Topic]
	if !ok {
		tc = &topicChannel{}
		d.topics[overflow.Topic] = tc
	}
	d.mu.Unlock()

	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, sub := range tc.subs {
		dropOldestSend(sub, overflow)
	}
}

// nonBlockingSend is the best-effort broadcast send: a lagging subscriber
// simply misses the message rather than stalling the router.
func nonBlockingSend(ch chan Message, msg Message) {
	select {
	case ch <- msg:
	default:
	}
}

// dropOldestSend is used only for reserved diagnostic topics, so that a
// storm of overflow/error events cannot itself grow unbounded: when full,
// the oldest queued diagnostic is evicted to make room for the newest.
func dropOldestSend(ch chan Message, msg Message) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}
