// Package ipcdispatcher bridges the internal message bus to the external
// zero-copy shared-memory transport in pkg/ipc.
package ipcdispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amadeus-host/amadeus/pkg/bus"
	"github.com/amadeus-host/amadeus/pkg/ipc"
	"github.com/amadeus-host/amadeus/pkg/plugin"
)

// status is the dispatcher's externally-visible health, broadcast on
// system.dispatcher.status whenever it changes.
type status string

const (
	statusHealthy  status = "healthy"
	statusDegraded status = "degraded"
)

const maxSendRetries = 3

// Config configures Plugin.
type Config struct {
	ShmDir string // directory backing the shared-memory segments, e.g. /dev/shm
	Slots  int
	// TopicFilter restricts which topics are bridged outbound. An empty
	// filter matches every topic.
	TopicFilter []string
}

// Plugin is the privileged IPC Dispatcher: it wiretaps the internal bus
// and forwards broadcasts to the external shared-memory service, and
// reinjects records the external side publishes.
type Plugin struct {
	plugin.Base

	cfg Config
	log *slog.Logger

	ctx *bus.MessageContext
	svc *ipc.Service

	filterMu sync.RWMutex
	filter   map[string]bool
	enabled  atomic.Bool
	status   atomic.Value // status

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the plugin; the shared-memory service is opened in Init.
func New(cfg Config, log *slog.Logger) *Plugin {
	if log == nil {
		log = slog.Default()
	}
	var filter map[string]bool
	if len(cfg.TopicFilter) > 0 {
		filter = make(map[string]bool, len(cfg.TopicFilter))
		for _, t := range cfg.TopicFilter {
			filter[t] = true
		}
	}
	p := &Plugin{cfg: cfg, log: log, filter: filter}
	p.status.Store(statusHealthy)
	p.enabled.Store(true)
	return p
}

func (p *Plugin) Identity() string { return "ipcdispatcher" }

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:             "ipcdispatcher",
		Description:      "Bridges internal broadcasts to the external shared-memory IPC service",
		Version:          "1.0.0",
		EnabledByDefault: true,
		Priority:         90,
		PluginType:       plugin.Privileged,
	}
}

func (p *Plugin) SetupMessaging(center *bus.DistributionCenter, ingress chan<- bus.Message) error {
	p.ctx = bus.NewMessageContext(center, p.Identity(), true, ingress)
	return nil
}

func (p *Plugin) Init(ctx context.Context) error {
	svc, err := ipc.OpenService(p.cfg.ShmDir, p.cfg.Slots)
	if err != nil {
		return err
	}
	p.svc = svc
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	wiretap, err := p.ctx.SubscribeAll()
	if err != nil {
		cancel()
		return err
	}

	p.wg.Add(2)
	go p.runOutbound(runCtx, wiretap)
	go p.runInbound(runCtx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if p.svc != nil {
		return p.svc.Close()
	}
	return nil
}

func (p *Plugin) matches(topic string) bool {
	p.filterMu.RLock()
	defer p.filterMu.RUnlock()
	if p.filter == nil {
		return true
	}
	return p.filter[topic]
}

// ApplyOverride implements plugin.Overridable. The declarative JSON config
// file may disable forwarding entirely (enabled=false) and/or replace the
// topic filter via a "topic_filter" property holding a comma-separated
// topic list; an empty value clears the filter back to match-everything.
func (p *Plugin) ApplyOverride(enabled bool, properties map[string]string) {
	p.enabled.Store(enabled)

	raw, ok := properties["topic_filter"]
	if !ok {
		return
	}
	raw = strings.TrimSpace(raw)
	var filter map[string]bool
	if raw != "" {
		topics := strings.Split(raw, ",")
		filter = make(map[string]bool, len(topics))
		for _, t := range topics {
			if t = strings.TrimSpace(t); t != "" {
				filter[t] = true
			}
		}
	}

	p.filterMu.Lock()
	p.filter = filter
	p.filterMu.Unlock()
}

// runOutbound observes every broadcast message via the wiretap and
// forwards matching, non-direct messages to the external service.
func (p *Plugin) runOutbound(ctx context.Context, wiretap <-chan bus.Message) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-wiretap:
			if !ok {
				return
			}
			if !p.enabled.Load() || msg.IsDirect() || !p.matches(msg.Topic) {
				continue
			}
			p.forwardOutbound(msg)
		}
	}
}

func (p *Plugin) forwardOutbound(msg bus.Message) {
	payloadJSON, err := json.Marshal(msg.Payload)
	if err != nil {
		p.log.Warn("ipcdispatcher: payload marshal failed", "topic", msg.Topic, "error", err)
		return
	}

	rec := ipc.Record{
		TopicName:   msg.Topic,
		PayloadJSON: string(payloadJSON),
		Priority:    uint8(msg.Priority),
		Timestamp:   msg.CreatedAt.Unix(),
		Source:      msg.Source,
	}

	var lastErr error
	backoff := 10 * time.Millisecond
	// One initial attempt plus up to maxSendRetries retries.
	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		if err := p.svc.PublishOutbound(rec); err != nil {
			lastErr = err
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		p.setStatus(statusHealthy)
		return
	}

	p.log.Warn("ipcdispatcher: outbound publish failed after retries", "topic", msg.Topic, "error", lastErr)
	p.setStatus(statusDegraded)
}

// runInbound polls the external service's inbound segment and reinjects
// every record into the internal bus, stamped with this plugin's identity.
func (p *Plugin) runInbound(ctx context.Context) {
	defer p.wg.Done()
	reader := p.svc.SubscribeInbound()
	for {
		rec, err := reader.Next(ctx)
		if err != nil {
			return // ctx cancelled
		}

		if !p.enabled.Load() {
			continue
		}

		var payload any
		if err := json.Unmarshal([]byte(rec.PayloadJSON), &payload); err != nil {
			p.log.Warn("ipcdispatcher: inbound payload decode failed", "topic", rec.TopicName, "error", err)
			continue
		}

		msg := bus.Message{
			ID:        "",
			Topic:     rec.TopicName,
			Payload:   payload,
			Source:    p.Identity(),
			Priority:  bus.Priority(rec.Priority),
			CreatedAt: time.Unix(rec.Timestamp, 0).UTC(),
		}
		if err := p.ctx.Send(ctx, msg); err != nil {
			p.log.Warn("ipcdispatcher: inbound reinject failed", "topic", rec.TopicName, "error", err)
		}
	}
}

func (p *Plugin) setStatus(s status) {
	prev := p.status.Swap(s)
	if prevStatus, _ := prev.(status); prevStatus == s {
		return
	}
	if p.ctx != nil {
		_ = p.ctx.Send(context.Background(), bus.NewMessage("system.dispatcher.status", map[string]any{
			"status": string(s),
		}, p.Identity()))
	}
}
