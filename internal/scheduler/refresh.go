// Package scheduler keeps the knowledge base fresh, either on a cron
// schedule or in response to changes in the docs directory.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// Refresher re-ingests the knowledge base
type Refresher interface {
	Refresh(ctx context.Context) (*models.IngestResult, error)
}

// RefreshScheduler runs Refresh on a cron schedule. A tick that fires while
// the previous refresh is still running is skipped.
type RefreshScheduler struct {
	cron      *cron.Cron
	refresher Refresher
	schedule  string
	timeout   time.Duration
	running   atomic.Bool
	logger    observability.Logger
}

// NewRefreshScheduler parses schedule and registers the refresh job
func NewRefreshScheduler(refresher Refresher, schedule string, timeout time.Duration, logger observability.Logger) (*RefreshScheduler, error) {
	if schedule == "" {
		return nil, fmt.Errorf("refresh schedule is required")
	}

	logger = logger.WithPrefix("scheduler")
	cl := cronLogger{logger: logger}
	s := &RefreshScheduler{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		refresher: refresher,
		schedule:  schedule,
		timeout:   timeout,
		logger:    logger,
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("failed to schedule refresh %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule
func (s *RefreshScheduler) Start() {
	s.cron.Start()

	entries := s.cron.Entries()
	fields := map[string]interface{}{"schedule": s.schedule}
	if len(entries) > 0 {
		fields["next_run"] = entries[0].Next.Format(time.RFC3339)
	}
	s.logger.Info("Scheduled knowledge refresh", fields)
}

// Stop halts the schedule and waits for a running refresh to finish
func (s *RefreshScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *RefreshScheduler) run() {
	s.runOnce()
}

// runOnce performs one refresh unless one is already in flight. It reports
// whether the refresh ran.
func (s *RefreshScheduler) runOnce() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous refresh still running, skipping scheduled run", nil)
		return false
	}
	defer s.running.Store(false)

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.Error("Scheduled refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
		return true
	}

	s.logger.Info("Scheduled refresh completed", map[string]interface{}{
		"documents": result.Documents,
		"chunks":    result.Chunks,
	})
	return true
}

// cronLogger adapts observability.Logger to cron.Logger
type cronLogger struct {
	logger observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	l.logger.Error(msg, fields)
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
