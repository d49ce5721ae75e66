package coresystem

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// JobKind distinguishes the three flavors of scheduled job CoreSystemPlugin
// registers: the memo's own reminder, a tag-derived auto-reminder, or a
// generic schedule.add job with no memo backing it.
type JobKind string

const (
	JobPrimary     JobKind = "primary"
	JobTagReminder JobKind = "tag_reminder"
	JobGeneric     JobKind = "generic"
)

// Job is a live scheduled action. It is reconstructed from persisted memos
// on restart rather than persisted itself.
type Job struct {
	ID       string
	CronExpr string
	MemoID   *int64
	Kind     JobKind
	Tag      string // set only for JobTagReminder

	fire func()

	lastChecked time.Time
}

// Scheduler polls every tick for due cron jobs. It favors a simple
// tick-based design over a heap of next-fire-times because sub-minute cron
// expressions (as used throughout this design, e.g. "*/1 * * * * *") need
// second-level granularity, which a cron library's own blocking scheduler
// does not uniformly provide across expression lengths.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	gron    *gronx.Gronx
	tick    time.Duration
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	nextSeq int
}

// NewScheduler creates a scheduler polling at the given tick interval
// (typically 1s, to support second-granularity cron expressions).
func NewScheduler(tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		jobs: make(map[string]*Job),
		gron: gronx.New(),
		tick: tick,
	}
}

// ValidCron reports whether expr is a syntactically valid cron expression.
func (s *Scheduler) ValidCron(expr string) bool {
	return s.gron.IsValid(expr)
}

// Register adds a job and returns its generated ID. fire is invoked
// (on the scheduler's own goroutine) whenever expr becomes due.
func (s *Scheduler) Register(expr string, kind JobKind, memoID *int64, tag string, fire func()) (string, error) {
	if !s.gron.IsValid(expr) {
		return "", ErrBadCron
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	id := jobID(s.nextSeq)
	s.jobs[id] = &Job{
		ID:       id,
		CronExpr: expr,
		MemoID:   memoID,
		Kind:     kind,
		Tag:      tag,
		fire:     fire,
	}
	return id, nil
}

// CancelByMemo removes every job referencing memoID, returning how many
// were removed. Used by system.memo.complete and system.memo.delete.
func (s *Scheduler) CancelByMemo(memoID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if j.MemoID != nil && *j.MemoID == memoID {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Cancel removes a single job by ID.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// JobsForMemo returns the jobs currently registered against memoID.
func (s *Scheduler) JobsForMemo(memoID int64) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if j.MemoID != nil && *j.MemoID == memoID {
			out = append(out, j)
		}
	}
	return out
}

// Start begins the polling loop. It runs until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				s.tickOnce(now)
			}
		}
	}()
}

func (s *Scheduler) tickOnce(now time.Time) {
	s.mu.Lock()
	due := make([]*Job, 0)
	for _, j := range s.jobs {
		isDue, err := s.gron.IsDue(j.CronExpr, now)
		if err != nil || !isDue {
			continue
		}
		// gronx's second-granularity truthiness can be true for the whole
		// second it evaluates in; guard against firing twice within the
		// same wall-clock second on a fast tick.
		if j.lastChecked.Equal(now.Truncate(time.Second)) {
			continue
		}
		j.lastChecked = now.Truncate(time.Second)
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		if j.fire != nil {
			j.fire()
		}
	}
}

// Stop cancels the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func jobID(seq int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if seq == 0 {
		return "job-0"
	}
	buf := make([]byte, 0, 8)
	n := seq
	for n > 0 {
		buf = append([]byte{letters[n%len(letters)]}, buf...)
		n /= len(letters)
	}
	return "job-" + string(buf)
}
