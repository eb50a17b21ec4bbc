// Package scheduler polls the store for due scheduled pattern executions
// and drives them through the executor.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/akontos/syntonia/internal/config"
	"github.com/akontos/syntonia/internal/eventbus"
	"github.com/akontos/syntonia/internal/executor"
	"github.com/akontos/syntonia/internal/pattern"
	"github.com/akontos/syntonia/internal/schedule"
	"github.com/akontos/syntonia/internal/store"
)

// ContextProvider supplies the execution context for a scheduled pattern.
// The scheduler itself has no view of agents or resources; the daemon wires
// in a provider that snapshots the current session.
type ContextProvider func(patternID string) (*pattern.Context, error)

type Scheduler struct {
	store        *store.Store
	exec         *executor.Executor
	bus          *eventbus.Client
	provider     ContextProvider
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, exec *executor.Executor, bus *eventbus.Client, cfg config.SchedulerConfig, provider ContextProvider) *Scheduler {
	return &Scheduler{
		store:        s,
		exec:         exec,
		bus:          bus,
		provider:     provider,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueScheduledExecutions(time.Now())
	if err != nil {
		slog.Error("failed to get due scheduled executions", "error", err)
		return
	}

	for _, se := range due {
		s.execute(ctx, se)
	}
}

func (s *Scheduler) execute(ctx context.Context, se store.ScheduledExecution) {
	slog.Info("executing scheduled pattern", "id", se.ID, "name", se.Name, "pattern", se.PatternID)

	pc, err := s.provider(se.PatternID)
	if err == nil {
		_, err = s.exec.ExecutePattern(ctx, se.PatternID, pc)
	}

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled execution failed", "id", se.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	nextRun := schedule.CalculateNextRun(se.Schedule)

	if err := s.store.UpdateScheduledAfterRun(se.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update scheduled execution", "id", se.ID, "error", err)
	}

	if nextRun == nil {
		slog.Info("no next run, scheduled execution done", "id", se.ID, "name", se.Name)
	}

	s.publishExecutedEvent(se, lastStatus)
}

func (s *Scheduler) publishExecutedEvent(se store.ScheduledExecution, status string) {
	if s.bus == nil {
		return
	}

	event := map[string]any{
		"type":      "scheduled_execution",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":      se.ID,
			"name":    se.Name,
			"pattern": se.PatternID,
			"status":  status,
		},
	}

	if err := s.bus.PublishJSON(eventbus.TopicEventsSchedule, event); err != nil {
		slog.Warn("failed to publish scheduled execution event", "error", err)
	}
}
