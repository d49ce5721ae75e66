package bus

import (
	"context"
	"log/slog"
	"sync"
)

// defaultIngressCapacity is the default bound on the MessageManager's
// single ingress queue (multi-producer, single-consumer).
const defaultIngressCapacity = 1024

// MessageManager owns the ingress channel and the routing goroutine. All
// plugin sends, direct or broadcast, pass through here so the bus has one
// observable choke point for backpressure and ordering.
type MessageManager struct {
	center  *DistributionCenter
	ingress chan Message
	log     *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewMessageManager creates a manager with the given ingress capacity
// (0 selects the default) bound to center.
func NewMessageManager(center *DistributionCenter, capacity int, log *slog.Logger) *MessageManager {
	if capacity <= 0 {
		capacity = defaultIngressCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &MessageManager{
		center:  center,
		ingress: make(chan Message, capacity),
		log:     log,
	}
}

// Ingress returns the send side of the queue, handed to MessageContexts.
func (m *MessageManager) Ingress() chan<- Message { return m.ingress }

// Start spawns the routing goroutine: receive a message, then dispatch it
// — direct messages via SendDirect, everything else via Distribute. The
// loop runs until ctx is cancelled or Stop is called.
func (m *MessageManager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-m.ingress:
				if !ok {
					return
				}
				if err := m.center.Distribute(msg); err != nil {
					m.log.Warn("message dispatch failed",
						"topic", msg.Topic, "recipient", msg.Recipient, "error", err)
				}
			}
		}
	}()
}

// Stop cancels the routing goroutine and waits for it to exit.
func (m *MessageManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
