package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageContext is the per-plugin façade onto the bus. A plugin holds one
// for its entire lifetime; it never touches the DistributionCenter or the
// ingress channel directly.
type MessageContext struct {
	center     *DistributionCenter
	identity   string
	privileged bool
	ingress    chan<- Message
}

// NewMessageContext builds the façade a plugin receives during
// setup_messaging. privileged gates SubscribeAll.
func NewMessageContext(center *DistributionCenter, identity string, privileged bool, ingress chan<- Message) *MessageContext {
	return &MessageContext{
		center:     center,
		identity:   identity,
		privileged: privileged,
		ingress:    ingress,
	}
}

// Identity returns the plugin identity this context was built for.
func (c *MessageContext) Identity() string { return c.identity }

// Subscribe is a thin delegate onto the distribution center.
func (c *MessageContext) Subscribe(topic string) <-chan Message {
	return c.center.Subscribe(topic)
}

// EnableDirectMessaging opts this plugin into direct delivery. Idempotent.
func (c *MessageContext) EnableDirectMessaging() <-chan Message {
	return c.center.EnableDirect(c.identity)
}

// SubscribeAll installs a wiretap. Only Privileged plugins may call this;
// Normal plugins receive ErrPermissionDenied and bus state is unchanged.
func (c *MessageContext) SubscribeAll() (<-chan Message, error) {
	if !c.privileged {
		return nil, ErrPermissionDenied
	}
	return c.center.RegisterWiretap(), nil
}

// Send stamps source/created_at (when the caller left them blank) and
// injects msg into the MessageManager's ingress queue. Send suspends the
// calling goroutine when the ingress is full; it never drops silently.
// Passing ctx allows the caller to bound that suspension; a nil ctx blocks
// until capacity is available.
func (c *MessageContext) Send(ctx context.Context, msg Message) error {
	if msg.Source == "" {
		msg.Source = c.identity
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if ctx == nil {
		c.ingress <- msg
		return nil
	}

	select {
	case c.ingress <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
