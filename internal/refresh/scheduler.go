package refresh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Pass is one unit of scheduled work.
type Pass interface {
	RunPass(ctx context.Context) Report
}

// Scheduler runs a Pass on a cron schedule. A tick that fires while the
// previous pass is still running is skipped.
type Scheduler struct {
	cron *cron.Cron
	pass Pass
	ctx  context.Context
}

// NewScheduler parses schedule (standard 5-field cron or a descriptor such
// as "@every 1h") and binds it to pass.
func NewScheduler(schedule string, pass Pass) (*Scheduler, error) {
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		pass: pass,
		ctx:  context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduling. Passes run with ctx until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	slog.Info("refresh scheduler started")
}

// Stop stops scheduling and waits for a running pass to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("refresh scheduler stop timed out")
	}
}

func (s *Scheduler) tick() {
	s.pass.RunPass(s.ctx)
}

// cronLogger routes cron's logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
