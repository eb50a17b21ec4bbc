// Package executor drives the full lifecycle of a pattern execution:
// validate, checkpoint, execute with timeout and retry, recover on failure,
// finalize. It owns the active-pattern table and composes the registry,
// validation engine, recovery manager, and monitor.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/akontos/syntonia/internal/monitor"
	"github.com/akontos/syntonia/internal/pattern"
	"github.com/akontos/syntonia/internal/recovery"
	"github.com/akontos/syntonia/internal/store"
	"github.com/akontos/syntonia/internal/validation"
	"github.com/google/uuid"
)

// Backoff policy between retry attempts. Ordinary failures back off
// exponentially from the base; timeouts retry after a flat delay.
const (
	retryBackoffBase = 100 * time.Millisecond
	timeoutBackoff   = 500 * time.Millisecond
)

// Statistics aggregate the active-pattern table.
type Statistics struct {
	ByStatus             map[pattern.Status]int `json:"by_status"`
	SuccessRate          float64                `json:"success_rate"`
	AverageExecutionTime time.Duration          `json:"average_execution_time"`
}

// Executor orchestrates pattern executions. The monitor, recovery manager,
// and store are optional; a nil component disables that concern.
type Executor struct {
	registry  *pattern.Registry
	validator *validation.Engine
	recovery  *recovery.Manager
	monitor   *monitor.Monitor
	db        *store.Store

	mu     sync.RWMutex
	active map[string]*pattern.State
}

func New(reg *pattern.Registry, val *validation.Engine, rec *recovery.Manager, mon *monitor.Monitor, db *store.Store) *Executor {
	return &Executor{
		registry:  reg,
		validator: val,
		recovery:  rec,
		monitor:   mon,
		db:        db,
		active:    make(map[string]*pattern.State),
	}
}

// ExecutePattern runs the named pattern against the context and returns its
// result. Within one call the phases are strictly sequential; concurrent
// calls for distinct pattern ids are independent.
func (e *Executor) ExecutePattern(ctx context.Context, patternID string, pc *pattern.Context) (*pattern.Result, error) {
	p, ok := e.registry.Get(patternID)
	if !ok {
		return nil, pattern.Errorf(pattern.KindConfiguration, patternID, "pattern not registered")
	}

	// Register state before validation so the execution is inspectable and
	// cancellable from the start.
	state := pattern.NewState(patternID)
	e.mu.Lock()
	e.active[patternID] = state
	e.mu.Unlock()

	runID := uuid.New().String()
	runStart := time.Now()
	e.saveRunStart(runID, patternID, pc)

	slog.Info("executing pattern", "pattern", patternID, "session", pc.SessionID)

	// Generic validation engine composed with the pattern's own check.
	combined := pattern.NewValidationResult()
	if e.validator != nil {
		combined.Merge(e.validator.ValidatePattern(patternID, pc, p.Metadata()))
	}
	pvr, err := p.Validate(ctx, pc)
	if err != nil {
		combined.AddError(fmt.Sprintf("pattern validation failed: %v", err))
	} else {
		combined.Merge(pvr)
	}

	if pc.Config.EnableMonitoring && e.monitor != nil {
		e.monitor.RecordValidation(patternID, combined.Valid, combined.Errors, combined.Warnings)
	}

	if !combined.Valid {
		e.withState(patternID, func(s *pattern.State) {
			s.Data["validation_errors"] = combined.Errors
			s.Data["validation_warnings"] = combined.Warnings
			s.Fail(strings.Join(combined.Errors, "; "))
		})
		err := pattern.Errorf(pattern.KindValidation, patternID, "%s",
			strings.Join(append(append([]string{}, combined.Errors...), combined.Warnings...), "; "))
		e.saveRunEnd(runID, "failed", nil, err.Error(), time.Since(runStart))
		return nil, err
	}
	if len(combined.Warnings) > 0 {
		slog.Warn("validation warnings", "pattern", patternID, "warnings", combined.Warnings)
	}

	e.withState(patternID, func(s *pattern.State) {
		s.Phase = pattern.PhaseExecuting
		s.Status = pattern.StatusRunning
		if len(combined.Warnings) > 0 {
			s.Data["validation_warnings"] = combined.Warnings
		}
		for k, v := range combined.Details {
			s.Data[k] = v
		}
	})
	// The pattern sees its own lifecycle state.
	pc.State = state

	if pc.Config.EnableMonitoring && e.monitor != nil {
		e.monitor.StartMonitoring(patternID, pc)
		e.monitor.UpdatePhase(patternID, pattern.PhaseExecuting, 0)
	}

	// Checkpointing is best-effort, never fatal.
	var checkpointID string
	if pc.Config.EnableRollback && e.recovery != nil {
		cpID, err := e.recovery.CreateCheckpoint(patternID, pc, map[string]string{"stage": "pre_execution"})
		if err != nil {
			slog.Warn("checkpoint failed, continuing without", "pattern", patternID, "error", err)
		} else {
			checkpointID = cpID
		}
	}

	result, execErr := e.executeWithTimeoutAndRetry(ctx, p, patternID, pc)

	// Post-retry recovery: restore the checkpoint and re-run the whole
	// timeout-and-retry loop exactly once.
	if execErr != nil && pc.Config.EnableRollback && e.recovery != nil && checkpointID != "" {
		rr := e.recovery.ExecuteStrategy(patternID, recovery.PartialRollback(checkpointID), pc, execErr)
		if pc.Config.EnableMonitoring && e.monitor != nil {
			e.monitor.RecordRecovery(patternID, string(rr.Strategy), rr.Success)
		}
		if rr.Success {
			slog.Info("recovery succeeded, re-executing", "pattern", patternID, "checkpoint", checkpointID)
			if res2, err2 := e.executeWithTimeoutAndRetry(ctx, p, patternID, pc); err2 == nil {
				result, execErr = res2, nil
			}
		}
	}

	if pc.Config.EnableMonitoring && e.monitor != nil {
		stopRes := result
		if stopRes == nil {
			stopRes = &pattern.Result{
				PatternID:    patternID,
				Success:      false,
				ErrorMessage: execErr.Error(),
				CompletedAt:  time.Now(),
			}
		}
		e.monitor.StopMonitoring(patternID, stopRes)
	}

	e.withState(patternID, func(s *pattern.State) {
		if s.Status == pattern.StatusCancelled {
			// Cancellation is cooperative; a cancelled execution keeps its
			// terminal status even when the in-flight attempt finished.
			return
		}
		if execErr == nil {
			s.Complete()
			for k, v := range result.Data {
				s.Data[k] = v
			}
		} else {
			s.Fail(execErr.Error())
		}
	})

	if execErr != nil {
		slog.Error("pattern failed", "pattern", patternID, "error", execErr)
		e.saveRunEnd(runID, "failed", nil, execErr.Error(), time.Since(runStart))
		return nil, execErr
	}

	slog.Info("pattern completed", "pattern", patternID, "duration", result.ExecutionTime)
	data, _ := json.Marshal(result.Data)
	e.saveRunEnd(runID, "completed", data, "", time.Since(runStart))
	return result, nil
}

// executeWithTimeoutAndRetry makes up to MaxRetries+1 attempts, each
// bounded by the configured timeout. Ordinary failures back off
// exponentially; timeouts retry after a flat delay.
func (e *Executor) executeWithTimeoutAndRetry(ctx context.Context, p pattern.Pattern, patternID string, pc *pattern.Context) (*pattern.Result, error) {
	maxAttempts := pc.Config.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.withState(patternID, func(s *pattern.State) {
			s.Data["attempt"] = attempt
		})

		result, err := e.runAttempt(ctx, p, patternID, pc)
		if err == nil {
			e.withState(patternID, func(s *pattern.State) {
				s.Phase = pattern.PhaseCompleted
				s.Progress = 1.0
			})
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// Parent cancelled; no point in further attempts.
			return nil, lastErr
		}

		timedOut := pattern.KindOf(err) == pattern.KindTimeout
		slog.Warn("pattern attempt failed",
			"pattern", patternID, "attempt", attempt, "max_attempts", maxAttempts, "timeout", timedOut, "error", err)

		if e.recovery != nil {
			if _, cpErr := e.recovery.CreateCheckpoint(patternID, pc, map[string]string{
				"stage":   "failure",
				"attempt": fmt.Sprintf("%d", attempt),
				"error":   err.Error(),
			}); cpErr != nil {
				slog.Warn("failure checkpoint failed", "pattern", patternID, "error", cpErr)
			}
		}

		if pc.Config.EnableRollback {
			if rbErr := p.Rollback(ctx, pc); rbErr != nil {
				// A failed rollback never masks the original failure.
				slog.Warn("rollback failed", "pattern", patternID, "error", rbErr)
			}
		}

		if attempt >= maxAttempts {
			break
		}

		var backoff time.Duration
		if timedOut {
			backoff = timeoutBackoff
		} else {
			backoff = retryBackoffBase << uint(attempt-1)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, lastErr
		}
	}

	if lastErr == nil {
		lastErr = pattern.Errorf(pattern.KindExecution, patternID, "execution failed with no recorded error")
	}
	return nil, lastErr
}

// runAttempt runs one pattern execution bounded by the configured timeout.
// A pattern that ignores cancellation keeps running in the background; the
// attempt is still reported as timed out on schedule.
func (e *Executor) runAttempt(ctx context.Context, p pattern.Pattern, patternID string, pc *pattern.Context) (*pattern.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, pc.Config.Timeout)
	defer cancel()

	type outcome struct {
		res *pattern.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.Execute(attemptCtx, pc)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, pattern.Errorf(pattern.KindTimeout, patternID, "execution exceeded %s", pc.Config.Timeout)
		}
		return nil, pattern.WrapError(pattern.KindExecution, patternID, attemptCtx.Err())
	}
}

// CancelPattern marks an active execution cancelled. Cancellation is
// cooperative: the in-flight attempt is not preempted, but the stored state
// becomes terminal immediately.
func (e *Executor) CancelPattern(patternID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.active[patternID]
	if !ok {
		return pattern.Errorf(pattern.KindConfiguration, patternID, "pattern not active")
	}
	now := time.Now()
	s.Status = pattern.StatusCancelled
	s.EndedAt = &now
	slog.Info("pattern cancelled", "pattern", patternID)
	return nil
}

// ActiveState returns a copy of the stored execution state.
func (e *Executor) ActiveState(patternID string) (*pattern.State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.active[patternID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// ActiveStates returns copies of every tracked execution state.
func (e *Executor) ActiveStates() []*pattern.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*pattern.State, 0, len(e.active))
	for _, s := range e.active {
		out = append(out, s.Clone())
	}
	return out
}

// RemoveState drops a terminal execution from the active table. Removing a
// still-running execution is refused.
func (e *Executor) RemoveState(patternID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.active[patternID]
	if !ok {
		return pattern.Errorf(pattern.KindConfiguration, patternID, "pattern not active")
	}
	if !s.Status.Terminal() {
		return pattern.Errorf(pattern.KindInvalidState, patternID, "execution still %s", s.Status)
	}
	delete(e.active, patternID)
	return nil
}

// ValidateConfiguration is a pre-flight check distinct from the pattern's
// own Validate: capability coverage, resource error thresholds, and hard
// constraint satisfaction, without running the pattern.
func (e *Executor) ValidateConfiguration(patternID string, pc *pattern.Context) (*pattern.ValidationResult, error) {
	p, ok := e.registry.Get(patternID)
	if !ok {
		return nil, pattern.Errorf(pattern.KindConfiguration, patternID, "pattern not registered")
	}
	md := p.Metadata()
	r := pattern.NewValidationResult()

	for _, capability := range md.RequiredCapabilities {
		if len(pc.AgentsWithCapability(capability)) == 0 {
			r.AddError(fmt.Sprintf("No agent found with required capability: %s", capability))
		}
	}
	if len(pc.IdleAgents()) == 0 {
		r.AddError("No idle agents available")
	}

	if pool := pc.Resources; pool != nil {
		if pool.Memory.AvailableBytes < 100<<20 {
			r.AddError(fmt.Sprintf("Insufficient available memory: %d bytes", pool.Memory.AvailableBytes))
		}
		if pool.CPU.AvailableCores <= 0 {
			r.AddError("No available CPU cores")
		}
	} else {
		r.AddError("No resource pool in context")
	}

	for _, c := range pc.Constraints {
		if !c.Hard {
			continue
		}
		switch c.Type {
		case pattern.ConstraintAgentCapability:
			if capability, _ := c.Parameters["capability"].(string); capability != "" {
				if len(pc.AgentsWithCapability(capability)) == 0 {
					r.AddError(fmt.Sprintf("Hard constraint %s unsatisfied: no agent with capability %s", c.ID, capability))
				}
			}
		case pattern.ConstraintResourceAvailability:
			if pc.Resources == nil {
				r.AddError(fmt.Sprintf("Hard constraint %s unsatisfied: no resource pool", c.ID))
			}
		}
	}

	return r, nil
}

// Statistics aggregates the active-pattern table by status.
func (e *Executor) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Statistics{ByStatus: make(map[pattern.Status]int)}
	var completed, failed, cancelled int
	var totalExec time.Duration
	for _, s := range e.active {
		st.ByStatus[s.Status]++
		switch s.Status {
		case pattern.StatusCompleted:
			completed++
			if s.EndedAt != nil {
				totalExec += s.EndedAt.Sub(s.StartedAt)
			}
		case pattern.StatusFailed:
			failed++
		case pattern.StatusCancelled:
			cancelled++
		}
	}
	if terminal := completed + failed + cancelled; terminal > 0 {
		st.SuccessRate = float64(completed) / float64(terminal)
	}
	if completed > 0 {
		st.AverageExecutionTime = totalExec / time.Duration(completed)
	}
	return st
}

func (e *Executor) withState(patternID string, fn func(*pattern.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.active[patternID]; ok {
		fn(s)
	}
}

func (e *Executor) saveRunStart(runID, patternID string, pc *pattern.Context) {
	if e.db == nil {
		return
	}
	err := e.db.SavePatternRun(&store.PatternRun{
		ID:        runID,
		PatternID: patternID,
		SessionID: pc.SessionID,
		Status:    "running",
	})
	if err != nil {
		slog.Warn("failed to persist run start", "pattern", patternID, "error", err)
	}
}

func (e *Executor) saveRunEnd(runID, status string, data json.RawMessage, errMsg string, duration time.Duration) {
	if e.db == nil {
		return
	}
	if err := e.db.FinishPatternRun(runID, status, data, errMsg, duration); err != nil {
		slog.Warn("failed to persist run end", "run", runID, "error", err)
	}
}
