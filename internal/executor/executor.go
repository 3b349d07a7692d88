package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reportcast/internal/apperrors"
	"github.com/reportcast/internal/models"
	"github.com/reportcast/internal/notify"
	"github.com/reportcast/internal/report"
	"github.com/rs/zerolog"
)

type State string

const (
	StatePending    State = "pending"
	StateFetching   State = "fetching"
	StateExporting  State = "exporting"
	StateDelivering State = "delivering"
	StateAdvancing  State = "advancing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

const (
	defaultRunTimeout     = 5 * time.Minute
	defaultAdvanceTimeout = 30 * time.Second
)

type ReportLoader interface {
	Get(ctx context.Context, id uint) (*models.ReportDefinition, error)
}

type Exporter interface {
	Export(reportName string, rows report.Rows) (*report.Artifact, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, msg notify.Message) error
}

type Advancer interface {
	Advance(ctx context.Context, id uint, now time.Time, delivered bool) (time.Time, error)
}

type AuditLog interface {
	AppendOrReport(ctx context.Context, entry *models.ExecutionLog)
}

type Config struct {
	RunTimeout     time.Duration // wall-clock budget for fetch, export and delivery
	AdvanceTimeout time.Duration
}

// Result describes one finished run.
type Result struct {
	RunID      string
	ScheduleID uint
	State      State // terminal state; FailedAt holds where a failure happened
	FailedAt   State
	Err        error // fetch/export/delivery failure
	AdvanceErr error // failure to persist the next run
	Delivered  bool
	NextRun    time.Time
	Duration   time.Duration
}

// Failed reports whether the run ended in StateFailed.
func (r Result) Failed() bool { return r.State == StateFailed }

// Executor turns one due schedule into a delivered report.
type Executor struct {
	reports   ReportLoader
	provider  report.DataProvider
	exporter  Exporter
	generator *report.Generator
	notifier  Deliverer
	store     Advancer
	audit     AuditLog
	cfg       Config

	Now func() time.Time
}

func New(
	reports ReportLoader,
	provider report.DataProvider,
	exporter Exporter,
	notifier Deliverer,
	store Advancer,
	audit AuditLog,
	cfg Config,
) *Executor {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if cfg.AdvanceTimeout <= 0 {
		cfg.AdvanceTimeout = defaultAdvanceTimeout
	}
	return &Executor{
		reports:   reports,
		provider:  provider,
		exporter:  exporter,
		generator: report.NewGenerator(),
		notifier:  notifier,
		store:     store,
		audit:     audit,
		cfg:       cfg,
		Now:       time.Now,
	}
}

type run struct {
	sched    models.Schedule
	res      *Result
	state    State
	artifact *report.Artifact
	start    time.Time
}

// Run executes sched end to end. Whatever happens before, every run passes
// through the advancing step and writes exactly one execution log entry.
func (e *Executor) Run(ctx context.Context, sched models.Schedule) (res Result) {
	r := &run{
		sched: sched,
		res:   &res,
		state: StatePending,
		start: e.Now(),
	}
	res.RunID = uuid.NewString()
	res.ScheduleID = sched.ID

	logger := zerolog.Ctx(ctx).With().
		Uint("schedule_id", sched.ID).
		Str("run_id", res.RunID).
		Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic while %s: %v", r.state, p)
		}
		e.finish(ctx, r)
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	res.Err = e.execute(runCtx, r)
	return res
}

func (e *Executor) execute(ctx context.Context, r *run) error {
	r.state = StateFetching
	def, err := e.reports.Get(ctx, r.sched.ReportID)
	if err != nil {
		return &apperrors.DataFetchError{Err: fmt.Errorf("report %d: %w", r.sched.ReportID, err)}
	}
	rows, err := e.fetch(ctx, def.Filter)
	if err != nil {
		return err
	}

	r.state = StateExporting
	r.artifact, err = e.exporter.Export(def.Name, rows)
	if err != nil {
		return fmt.Errorf("failed to export report %q: %w", def.Name, err)
	}

	r.state = StateDelivering
	body, err := e.generator.Body(def, r.sched.Frequency, r.artifact, r.start)
	if err != nil {
		return err
	}
	msg := notify.Message{
		To:         r.sched.Recipients,
		Subject:    e.generator.Subject(def, r.sched.Frequency),
		Body:       body,
		Attachment: r.artifact,
		RunID:      r.res.RunID,
	}
	if err := e.notifier.Deliver(ctx, msg); err != nil {
		return err
	}
	r.res.Delivered = true
	return nil
}

// fetch bounds the provider call by ctx even if the provider ignores it.
func (e *Executor) fetch(ctx context.Context, spec models.FilterSpec) (report.Rows, error) {
	type fetched struct {
		rows report.Rows
		err  error
	}
	done := make(chan fetched, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fetched{err: fmt.Errorf("provider panic: %v", p)}
			}
		}()
		rows, err := e.provider.Fetch(ctx, spec)
		done <- fetched{rows: rows, err: err}
	}()

	select {
	case f := <-done:
		if f.err != nil {
			return report.Rows{}, &apperrors.DataFetchError{Err: f.err, Timeout: apperrors.IsTimeout(f.err)}
		}
		return f.rows, nil
	case <-ctx.Done():
		return report.Rows{}, &apperrors.DataFetchError{Err: ctx.Err(), Timeout: apperrors.IsTimeout(ctx.Err())}
	}
}

func (e *Executor) finish(ctx context.Context, r *run) {
	res := r.res
	logger := zerolog.Ctx(ctx)
	if res.Err != nil {
		res.FailedAt = r.state
	}

	r.state = StateAdvancing
	if err := r.artifact.Remove(); err != nil {
		logger.Warn().Err(err).Str("path", r.artifact.Path).Msg("failed to remove report artifact")
	}

	advCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AdvanceTimeout)
	defer cancel()
	next, err := e.store.Advance(advCtx, r.sched.ID, r.start, res.Delivered)
	if err != nil {
		res.AdvanceErr = err
		res.FailedAt = StateAdvancing
	} else {
		res.NextRun = next
	}

	res.Duration = e.Now().Sub(r.start)
	entry := &models.ExecutionLog{
		RunID:          res.RunID,
		ScheduleID:     r.sched.ID,
		ReportID:       r.sched.ReportID,
		Status:         models.ExecutionSuccess,
		RecipientCount: len(r.sched.Recipients),
		DurationMs:     res.Duration.Milliseconds(),
	}

	if res.Err == nil && res.AdvanceErr == nil {
		res.State = StateSucceeded
		logger.Info().Time("next_run", res.NextRun).Dur("duration", res.Duration).Msg("report delivered")
	} else {
		res.State = StateFailed
		entry.Status = models.ExecutionFailed
		entry.ErrorKind, entry.Error = describe(res)
		logger.Error().
			Str("failed_at", string(res.FailedAt)).
			Str("error_kind", entry.ErrorKind).
			Str("error", entry.Error).
			Msg("report run failed")
	}

	e.audit.AppendOrReport(advCtx, entry)
}

// describe prefers the advancing failure: it is the one that leaves the
// schedule due.
func describe(res *Result) (kind, detail string) {
	switch {
	case res.AdvanceErr != nil && res.Err != nil:
		return apperrors.Kind(res.AdvanceErr), fmt.Sprintf("%v (after: %v)", res.AdvanceErr, res.Err)
	case res.AdvanceErr != nil:
		return apperrors.Kind(res.AdvanceErr), res.AdvanceErr.Error()
	default:
		return apperrors.Kind(res.Err), res.Err.Error()
	}
}
