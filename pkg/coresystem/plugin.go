package coresystem

import (
	"context"
	"log/slog"
	"time"

	"github.com/amadeus-host/amadeus/pkg/bus"
	"github.com/amadeus-host/amadeus/pkg/plugin"
)

const (
	topicMemoCreate   = "system.memo.create"
	topicMemoComplete = "system.memo.complete"
	topicMemoDelete   = "system.memo.delete"
	topicMemoUpdate   = "system.memo.update"
	topicMemoList     = "system.memo.list"
	topicScheduleAdd  = "system.schedule.add"
)

const (
	defaultExpirationCheckInterval = time.Hour
	defaultExpirationRetentionDays = 30
)

// AutoRemindRule maps a memo tag to a cron expression for a tag-derived
// reminder job, e.g. "stage_goal" -> "0 0 10 * * * *".
type AutoRemindRule struct {
	Tag  string
	Cron string
}

// Config configures CoreSystemPlugin.
type Config struct {
	DBPath          string
	AutoRemindRules []AutoRemindRule
	Tick            time.Duration

	// ExpirationCheckInterval controls how often the background
	// expiration/recycling pass runs (default 1h).
	ExpirationCheckInterval time.Duration
	// ExpirationRetentionDays is how long an expired memo is kept before
	// RecycleExpiredMemos hard-deletes it (default 30).
	ExpirationRetentionDays int
}

// Plugin is the privileged Core System plugin: a persistent memo store
// coupled to a cron scheduler, wired to the system.memo.* and
// system.schedule.* topics.
type Plugin struct {
	plugin.Base

	cfg   Config
	log   *slog.Logger
	store *Store
	sched *Scheduler
	ctx   *bus.MessageContext

	cancel context.CancelFunc
}

// New constructs the plugin. OpenStore/migration happens in Init, not
// here, so construction itself cannot fail.
func New(cfg Config, log *slog.Logger) *Plugin {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.ExpirationCheckInterval <= 0 {
		cfg.ExpirationCheckInterval = defaultExpirationCheckInterval
	}
	if cfg.ExpirationRetentionDays <= 0 {
		cfg.ExpirationRetentionDays = defaultExpirationRetentionDays
	}
	return &Plugin{cfg: cfg, log: log}
}

func (p *Plugin) Identity() string { return "coresystem" }

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:             "coresystem",
		Description:      "Persistent memo store and cron scheduler",
		Version:          "1.0.0",
		EnabledByDefault: true,
		Priority:         100,
		PluginType:       plugin.Privileged,
	}
}

func (p *Plugin) SetupMessaging(center *bus.DistributionCenter, ingress chan<- bus.Message) error {
	p.ctx = bus.NewMessageContext(center, p.Identity(), true, ingress)
	return nil
}

// Init opens the store (creating the schema if missing), builds the
// scheduler, and rebuilds jobs for every active memo — restart recovery.
func (p *Plugin) Init(ctx context.Context) error {
	store, err := OpenStore(p.cfg.DBPath)
	if err != nil {
		return err
	}
	p.store = store
	p.sched = NewScheduler(p.cfg.Tick)

	memos, err := store.ListActive()
	if err != nil {
		return err
	}
	for _, m := range memos {
		p.registerJobsForMemo(m)
	}
	return nil
}

// Start subscribes to the core topics and begins the routing/scheduling
// goroutines.
func (p *Plugin) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.sched.Start(runCtx)

	subs := map[string]<-chan bus.Message{
		topicMemoCreate:   p.ctx.Subscribe(topicMemoCreate),
		topicMemoComplete: p.ctx.Subscribe(topicMemoComplete),
		topicMemoDelete:   p.ctx.Subscribe(topicMemoDelete),
		topicMemoUpdate:   p.ctx.Subscribe(topicMemoUpdate),
		topicMemoList:     p.ctx.Subscribe(topicMemoList),
		topicScheduleAdd:  p.ctx.Subscribe(topicScheduleAdd),
	}

	for topic, ch := range subs {
		go p.handleTopic(runCtx, topic, ch)
	}

	go p.runExpirationChecker(runCtx)
	return nil
}

// runExpirationChecker periodically marks overdue active memos expired,
// then recycles (hard-deletes) expired memos past the retention window.
// Neither step emits a bus message; both are logged with counts.
func (p *Plugin) runExpirationChecker(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ExpirationCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.runExpirationPass(now)
		}
	}
}

func (p *Plugin) runExpirationPass(now time.Time) {
	expired, err := p.store.MarkExpiredMemos(now)
	if err != nil {
		p.log.Warn("coresystem: mark expired memos failed", "error", err)
	} else if expired > 0 {
		p.log.Info("coresystem: marked memos expired", "count", expired)
	}

	retention := time.Duration(p.cfg.ExpirationRetentionDays) * 24 * time.Hour
	recycled, err := p.store.RecycleExpiredMemos(now, retention)
	if err != nil {
		p.log.Warn("coresystem: recycle expired memos failed", "error", err)
	} else if recycled > 0 {
		p.log.Info("coresystem: recycled expired memos", "count", recycled)
	}
}

func (p *Plugin) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.sched != nil {
		p.sched.Stop()
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

func (p *Plugin) handleTopic(ctx context.Context, topic string, ch <-chan bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.dispatch(ctx, topic, msg)
		}
	}
}

func (p *Plugin) dispatch(ctx context.Context, topic string, msg bus.Message) {
	payload, _ := msg.Payload.(map[string]any)

	var err error
	switch topic {
	case topicMemoCreate:
		err = p.handleCreate(ctx, payload)
	case topicMemoComplete:
		err = p.handleComplete(ctx, payload)
	case topicMemoDelete:
		err = p.handleDelete(ctx, payload)
	case topicMemoUpdate:
		err = p.handleUpdate(ctx, payload)
	case topicMemoList:
		err = p.handleList(ctx, payload)
	case topicScheduleAdd:
		err = p.handleScheduleAdd(ctx, payload)
	}

	if err != nil {
		p.reply(ctx, bus.ErrorTopic(topic), map[string]any{
			"code":   errorCode(err),
			"detail": err.Error(),
		})
	}
}

func (p *Plugin) reply(ctx context.Context, topic string, payload any) {
	if err := p.ctx.Send(ctx, bus.NewMessage(topic, payload, p.Identity())); err != nil {
		p.log.Warn("coresystem: reply send failed", "topic", topic, "error", err)
	}
}

func (p *Plugin) handleCreate(ctx context.Context, payload map[string]any) error {
	content, _ := payload["content"].(string)
	cron, _ := payload["cron"].(string)
	tags := toStringSlice(payload["tags"])

	if cron != "" && !p.sched.ValidCron(cron) {
		return ErrBadCron
	}

	priority := PriorityNormal
	if v, ok := payload["priority"].(string); ok && v != "" {
		priority = Priority(v)
	}

	m := Memo{Content: content, Status: StatusActive, Cron: cron, Tags: tags, Priority: priority}
	if v, ok := toInt64(payload["todo_date"]); ok {
		m.TodoDate = &v
	}
	id, err := p.store.CreateMemo(m)
	if err != nil {
		return err
	}
	m.ID = id

	p.registerJobsForMemo(m)

	p.reply(ctx, "system.memo.created", map[string]any{"id": id, "content": content})
	return nil
}

func (p *Plugin) handleComplete(ctx context.Context, payload map[string]any) error {
	id, ok := toInt64(payload["id"])
	if !ok {
		return ErrNotFound
	}
	if err := p.store.CompleteMemo(id); err != nil {
		return err
	}
	p.sched.CancelByMemo(id)
	p.reply(ctx, "system.memo.complete.success", map[string]any{"id": id, "status": string(StatusCompleted)})
	return nil
}

func (p *Plugin) handleDelete(ctx context.Context, payload map[string]any) error {
	id, ok := toInt64(payload["id"])
	if !ok {
		return ErrNotFound
	}
	p.sched.CancelByMemo(id)
	if err := p.store.DeleteMemo(id); err != nil {
		return err
	}
	p.reply(ctx, "system.memo.delete.success", map[string]any{"id": id})
	return nil
}

func (p *Plugin) handleList(ctx context.Context, payload map[string]any) error {
	var memos []Memo
	var err error

	if len(payload) == 0 {
		memos, err = p.store.ListActive()
	} else {
		memos, err = p.store.QueryMemos(parseMemoQueryParams(payload))
	}
	if err != nil {
		return err
	}
	p.reply(ctx, "system.memo.list.reply", map[string]any{"memos": memos})
	return nil
}

// parseMemoQueryParams translates the system.memo.list payload into
// MemoQueryParams. Absent fields leave the corresponding filter off.
func parseMemoQueryParams(payload map[string]any) MemoQueryParams {
	var params MemoQueryParams

	if v, ok := payload["status"].(string); ok {
		params.Status = Status(v)
	}
	if v, ok := payload["min_priority"].(string); ok {
		params.MinPriority = Priority(v)
	}
	if v, ok := toInt64(payload["from_date"]); ok {
		params.FromDate = &v
	}
	if v, ok := toInt64(payload["to_date"]); ok {
		params.ToDate = &v
	}
	if v, ok := payload["keyword"].(string); ok {
		params.Keyword = v
	}
	params.Tags = toStringSlice(payload["tags"])
	if v, ok := toInt64(payload["limit"]); ok {
		params.Limit = int(v)
	}
	if v, ok := toInt64(payload["offset"]); ok {
		params.Offset = int(v)
	}
	return params
}

// handleUpdate applies a sparse update to a memo. When cron changes, the
// memo's primary job (not its tag-derived jobs, which track the
// auto-remind configuration rather than the memo's own cron) is cancelled
// and, if the new cron is non-empty, re-registered.
func (p *Plugin) handleUpdate(ctx context.Context, payload map[string]any) error {
	id, ok := toInt64(payload["id"])
	if !ok {
		return ErrNotFound
	}

	var upd MemoUpdate
	if v, ok := payload["content"].(string); ok {
		upd.Content = &v
	}

	cronChanging := false
	var newCron string
	if v, ok := payload["cron"].(string); ok {
		if v != "" && !p.sched.ValidCron(v) {
			return ErrBadCron
		}
		cronChanging = true
		newCron = v
		upd.Cron = &v
	}

	if raw, present := payload["tags"]; present {
		upd.Tags = toStringSlice(raw)
		upd.HasTags = true
	}
	if v, ok := toInt64(payload["todo_date"]); ok {
		upd.TodoDate = &v
	}
	if v, ok := payload["priority"].(string); ok {
		pr := Priority(v)
		upd.Priority = &pr
	}
	if v, ok := toInt64(payload["remind_at"]); ok {
		t := time.Unix(v, 0).UTC()
		upd.RemindAt = &t
	}

	if err := p.store.UpdateMemo(id, upd); err != nil {
		return err
	}

	if cronChanging {
		for _, job := range p.sched.JobsForMemo(id) {
			if job.Kind == JobPrimary {
				p.sched.Cancel(job.ID)
			}
		}
		if newCron != "" {
			m, err := p.store.GetMemo(id)
			if err != nil {
				return err
			}
			memoID := id
			_, err = p.sched.Register(newCron, JobPrimary, &memoID, "", func() {
				p.fireRemind(memoID, m.Content, "primary", "")
			})
			if err != nil {
				p.log.Warn("coresystem: failed to re-register primary job", "memo_id", id, "error", err)
			}
		}
	}

	p.reply(ctx, "system.memo.updated", map[string]any{"id": id})
	return nil
}

func (p *Plugin) handleScheduleAdd(ctx context.Context, payload map[string]any) error {
	cron, _ := payload["cron"].(string)
	message, _ := payload["message"].(string)

	if !p.sched.ValidCron(cron) {
		return ErrBadCron
	}

	jobID, err := p.sched.Register(cron, JobGeneric, nil, "", func() {
		if sendErr := p.ctx.Send(context.Background(), bus.NewMessage(message, nil, p.Identity())); sendErr != nil {
			p.log.Warn("coresystem: scheduled broadcast failed", "message", message, "error", sendErr)
		}
	})
	if err != nil {
		return err
	}
	p.reply(ctx, "system.schedule.added", map[string]any{"job_id": jobID})
	return nil
}

// registerJobsForMemo rebuilds the primary reminder job (if the memo has a
// cron) and any tag-derived auto-remind jobs. Used both on memo creation
// and during restart recovery.
func (p *Plugin) registerJobsForMemo(m Memo) {
	if m.Cron != "" {
		memoID := m.ID
		_, err := p.sched.Register(m.Cron, JobPrimary, &memoID, "", func() {
			p.fireRemind(memoID, m.Content, "primary", "")
		})
		if err != nil {
			p.log.Warn("coresystem: failed to register primary job", "memo_id", m.ID, "error", err)
		}
	}

	for _, rule := range p.cfg.AutoRemindRules {
		if !m.HasTag(rule.Tag) {
			continue
		}
		memoID := m.ID
		tag := rule.Tag
		_, err := p.sched.Register(rule.Cron, JobTagReminder, &memoID, tag, func() {
			p.fireRemind(memoID, m.Content, "tag_reminder", tag)
		})
		if err != nil {
			p.log.Warn("coresystem: failed to register tag_reminder job", "memo_id", m.ID, "tag", tag, "error", err)
		}
	}
}

func (p *Plugin) fireRemind(memoID int64, content, kind, tag string) {
	payload := map[string]any{"id": memoID, "content": content, "type": kind}
	if tag != "" {
		payload["tag"] = tag
	}
	if err := p.ctx.Send(context.Background(), bus.NewMessage("system.memo.remind", payload, p.Identity())); err != nil {
		p.log.Warn("coresystem: remind send failed", "memo_id", memoID, "error", err)
	}
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
