package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reportcast/internal/executor"
	"github.com/reportcast/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	defaultRetryBase = time.Minute
	defaultRetryMax  = time.Hour
)

var ErrAlreadyRunning = errors.New("schedule is already running")

type ScheduleSource interface {
	ListDue(ctx context.Context, now time.Time) ([]models.Schedule, error)
	Get(ctx context.Context, id uint) (*models.Schedule, error)
}

type Runner interface {
	Run(ctx context.Context, sched models.Schedule) executor.Result
}

type Config struct {
	Workers   int           // concurrent runs per cycle; 1 keeps runs strictly sequential
	RetryBase time.Duration // first hold-back after a failed advance
	RetryMax  time.Duration
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	StartedAt time.Time
	Due       int
	Succeeded int
	Failed    int
	Skipped   int // held back after a failed advance, or already in flight
}

type hold struct {
	attempts int
	until    time.Time
}

// Loop polls for due schedules and runs each one. Failures of a single run
// never stop the cycle; only listing due schedules can fail a cycle.
type Loop struct {
	source ScheduleSource
	runner Runner
	cfg    Config
	sem    *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[uint]struct{}
	holds    map[uint]hold
	last     CycleReport
	cycles   uint64
}

func NewLoop(source ScheduleSource, runner Runner, cfg Config) *Loop {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = defaultRetryMax
		if cfg.RetryMax < cfg.RetryBase {
			cfg.RetryMax = cfg.RetryBase
		}
	}
	return &Loop{
		source:   source,
		runner:   runner,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		inFlight: make(map[uint]struct{}),
		holds:    make(map[uint]hold),
	}
}

// RunCycle processes every schedule due at now in next_run order.
// Cancelling ctx stops dispatching; runs already started finish normally.
func (l *Loop) RunCycle(ctx context.Context, now time.Time) (CycleReport, error) {
	logger := zerolog.Ctx(ctx)
	rep := CycleReport{StartedAt: now}

	due, err := l.source.ListDue(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("failed to list due schedules: %w", err)
	}
	rep.Due = len(due)
	if len(due) > 0 {
		logger.Debug().Int("due", len(due)).Msg("poll cycle started")
	}

	var (
		wg    sync.WaitGroup
		repMu sync.Mutex
	)
	runCtx := context.WithoutCancel(ctx)

	for _, sched := range due {
		if ctx.Err() != nil {
			break
		}
		if !l.claim(sched.ID, now) {
			repMu.Lock()
			rep.Skipped++
			repMu.Unlock()
			continue
		}
		if err := l.sem.Acquire(ctx, 1); err != nil {
			l.release(sched.ID)
			break
		}

		wg.Add(1)
		go func(sched models.Schedule) {
			defer wg.Done()
			defer l.sem.Release(1)

			res := l.runOne(runCtx, sched, now)
			repMu.Lock()
			if res.Failed() {
				rep.Failed++
			} else {
				rep.Succeeded++
			}
			repMu.Unlock()
		}(sched)
	}
	wg.Wait()

	l.mu.Lock()
	l.last = rep
	l.cycles++
	l.mu.Unlock()

	if rep.Due > 0 {
		logger.Info().
			Int("due", rep.Due).
			Int("succeeded", rep.Succeeded).
			Int("failed", rep.Failed).
			Int("skipped", rep.Skipped).
			Msg("poll cycle finished")
	}
	return rep, nil
}

// RunNow executes one schedule immediately, outside the poll order. It
// shares the in-flight guard with the poll cycle.
func (l *Loop) RunNow(ctx context.Context, id uint, now time.Time) (executor.Result, error) {
	sched, err := l.source.Get(ctx, id)
	if err != nil {
		return executor.Result{}, err
	}
	l.mu.Lock()
	if _, busy := l.inFlight[id]; busy {
		l.mu.Unlock()
		return executor.Result{}, ErrAlreadyRunning
	}
	l.inFlight[id] = struct{}{}
	l.mu.Unlock()

	return l.runOne(context.WithoutCancel(ctx), *sched, now), nil
}

func (l *Loop) runOne(ctx context.Context, sched models.Schedule, now time.Time) executor.Result {
	defer l.release(sched.ID)
	res := l.runner.Run(ctx, sched)
	l.recordAdvance(sched.ID, res, now)
	return res
}

// claim marks a schedule in flight unless it is running already or held back.
func (l *Loop) claim(id uint, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inFlight[id]; busy {
		return false
	}
	if h, ok := l.holds[id]; ok && now.Before(h.until) {
		return false
	}
	l.inFlight[id] = struct{}{}
	return true
}

func (l *Loop) release(id uint) {
	l.mu.Lock()
	delete(l.inFlight, id)
	l.mu.Unlock()
}

// recordAdvance backs off a schedule whose next run could not be persisted.
// Such a schedule stays due, and without a hold it would be re-run, and
// possibly re-delivered, on every cycle.
func (l *Loop) recordAdvance(id uint, res executor.Result, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if res.AdvanceErr == nil {
		delete(l.holds, id)
		return
	}
	h := l.holds[id]
	h.attempts++
	h.until = now.Add(l.backoff(h.attempts))
	l.holds[id] = h
}

func (l *Loop) backoff(attempts int) time.Duration {
	d := l.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= l.cfg.RetryMax {
			return l.cfg.RetryMax
		}
	}
	return d
}

// Stats reports the most recent cycle and how many cycles ran.
func (l *Loop) Stats() (CycleReport, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.cycles
}

// HeldUntil returns when a held-back schedule becomes eligible again.
func (l *Loop) HeldUntil(id uint) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holds[id]
	return h.until, ok
}
