package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Trigger fires poll cycles on a cron spec. Overlapping cycles are skipped,
// so a slow cycle delays the next one instead of running beside it.
type Trigger struct {
	loop *Loop
	spec string
	loc  *time.Location
	log  zerolog.Logger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

// NewTrigger builds a trigger. spec accepts the standard five-field format
// and descriptors such as "@every 1m".
func NewTrigger(loop *Loop, spec string, loc *time.Location, log zerolog.Logger) *Trigger {
	if loc == nil {
		loc = time.Local
	}
	return &Trigger{loop: loop, spec: spec, loc: loc, log: log}
}

// EverySpec turns a poll interval into a cron descriptor.
func EverySpec(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}

func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	ctx = t.log.WithContext(ctx)
	logger := cronLogger{log: t.log}
	c := cron.New(
		cron.WithLocation(t.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(t.spec, func() {
		if _, err := t.loop.RunCycle(ctx, time.Now().In(t.loc)); err != nil {
			t.log.Error().Err(err).Msg("poll cycle failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("invalid poll spec %q: %w", t.spec, err)
	}

	c.Start()
	t.c = c
	t.cancel = cancel
	t.log.Info().Str("spec", t.spec).Str("location", t.loc.String()).Msg("scheduler started")
	return nil
}

// Stop cancels dispatching and waits for the in-flight cycle to finish.
func (t *Trigger) Stop() {
	t.mu.Lock()
	c, cancel := t.c, t.cancel
	t.c, t.cancel = nil, nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	t.log.Info().Msg("scheduler stopped")
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
