// Package recovery bounds the blast radius of pattern failures by
// checkpointing execution state and applying rollback, partial-rollback,
// and retry strategies against those checkpoints.
package recovery

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/akontos/syntonia/internal/config"
	"github.com/akontos/syntonia/internal/pattern"
	"github.com/akontos/syntonia/internal/store"
	"github.com/google/uuid"
)

// Checkpoint is a point-in-time snapshot of agent, resource, and execution
// state for one pattern.
type Checkpoint struct {
	ID          string             `json:"id"`
	PatternID   string             `json:"pattern_id"`
	CreatedAt   time.Time          `json:"created_at"`
	Annotations map[string]string  `json:"annotations,omitempty"`
	Agents      []pattern.AgentInfo `json:"agents"`
	Resources   *pattern.ResourcePool `json:"resources"`
	State       *pattern.State     `json:"state"`
}

// StrategyType names a recovery strategy.
type StrategyType string

const (
	StrategyRollback        StrategyType = "rollback"
	StrategyPartialRollback StrategyType = "partial_rollback"
	StrategyRetry           StrategyType = "retry"
)

// Strategy selects and parameterizes a recovery approach.
type Strategy struct {
	Type StrategyType `json:"type"`

	// Rollback / PartialRollback
	CheckpointID       string `json:"checkpoint_id,omitempty"` // empty means latest
	RestoreResources   bool   `json:"restore_resources"`
	RestoreAgentStates bool   `json:"restore_agent_states"`

	// PartialRollback
	RollbackSteps           int  `json:"rollback_steps,omitempty"`
	PreserveSuccessfulSteps bool `json:"preserve_successful_steps"`

	// Retry
	MaxAttempts        int           `json:"max_attempts,omitempty"`
	BackoffDelay       time.Duration `json:"backoff_delay,omitempty"`
	ExponentialBackoff bool          `json:"exponential_backoff,omitempty"`
}

// Rollback returns a full-restore strategy against the given checkpoint.
func Rollback(checkpointID string) Strategy {
	return Strategy{
		Type:               StrategyRollback,
		CheckpointID:       checkpointID,
		RestoreResources:   true,
		RestoreAgentStates: true,
	}
}

// PartialRollback restores the checkpoint but preserves state recorded for
// steps that already succeeded.
func PartialRollback(checkpointID string) Strategy {
	return Strategy{
		Type:                    StrategyPartialRollback,
		CheckpointID:            checkpointID,
		RestoreResources:        true,
		RestoreAgentStates:      true,
		PreserveSuccessfulSteps: true,
	}
}

// Retry returns a re-execution strategy. The manager only prepares the
// context for another run; re-invoking the pattern is the executor's job.
func Retry(maxAttempts int, backoff time.Duration, exponential bool) Strategy {
	return Strategy{
		Type:               StrategyRetry,
		MaxAttempts:        maxAttempts,
		BackoffDelay:       backoff,
		ExponentialBackoff: exponential,
	}
}

// Result reports the outcome of one recovery attempt. Strategy failure is
// expressed as Success:false, never as an error, so the executor can make a
// policy decision instead of unwinding.
type Result struct {
	PatternID    string        `json:"pattern_id"`
	Strategy     StrategyType  `json:"strategy"`
	Success      bool          `json:"success"`
	CheckpointID string        `json:"checkpoint_id,omitempty"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// Record is the queryable history entry of one recovery attempt.
type Record struct {
	PatternID    string        `json:"pattern_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Strategy     StrategyType  `json:"strategy"`
	Success      bool          `json:"success"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Statistics are derived from the recovery history.
type Statistics struct {
	TotalAttempts      int                  `json:"total_attempts"`
	SuccessfulAttempts int                  `json:"successful_attempts"`
	FailedAttempts     int                  `json:"failed_attempts"`
	AverageDuration    time.Duration        `json:"average_duration"`
	ByStrategy         map[StrategyType]int `json:"by_strategy"`
}

// Manager owns checkpoints and the recovery history. A nil store is
// allowed; records are then kept in memory only.
type Manager struct {
	mu          sync.RWMutex
	checkpoints map[string][]*Checkpoint // pattern id -> checkpoints, oldest first
	byID        map[string]*Checkpoint
	history     []Record

	maxPerPattern int
	historyLimit  int
	db            *store.Store
}

func New(cfg config.RecoveryConfig, db *store.Store) *Manager {
	maxPerPattern := cfg.MaxCheckpointsPerPattern
	if maxPerPattern <= 0 {
		maxPerPattern = 10
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Manager{
		checkpoints:   make(map[string][]*Checkpoint),
		byID:          make(map[string]*Checkpoint),
		maxPerPattern: maxPerPattern,
		historyLimit:  historyLimit,
		db:            db,
	}
}

// CreateCheckpoint snapshots the context's agents, resources, and state.
// Old checkpoints beyond the per-pattern retention limit are evicted FIFO.
func (m *Manager) CreateCheckpoint(patternID string, pc *pattern.Context, annotations map[string]string) (string, error) {
	if pc == nil {
		return "", fmt.Errorf("create checkpoint: nil context")
	}

	cp := &Checkpoint{
		ID:          uuid.New().String(),
		PatternID:   patternID,
		CreatedAt:   time.Now(),
		Annotations: annotations,
		Resources:   pc.Resources.Clone(),
		State:       pc.State.Clone(),
	}
	cp.Agents = make([]pattern.AgentInfo, len(pc.Agents))
	for i, a := range pc.Agents {
		cp.Agents[i] = a.Clone()
	}

	m.mu.Lock()
	m.checkpoints[patternID] = append(m.checkpoints[patternID], cp)
	m.byID[cp.ID] = cp
	if len(m.checkpoints[patternID]) > m.maxPerPattern {
		evicted := m.checkpoints[patternID][0]
		m.checkpoints[patternID] = m.checkpoints[patternID][1:]
		delete(m.byID, evicted.ID)
	}
	m.mu.Unlock()

	slog.Debug("checkpoint created", "pattern", patternID, "checkpoint", cp.ID)
	return cp.ID, nil
}

// Checkpoint looks up a checkpoint by id.
func (m *Manager) Checkpoint(id string) (*Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.byID[id]
	return cp, ok
}

// LatestCheckpoint returns the newest checkpoint for a pattern.
func (m *Manager) LatestCheckpoint(patternID string) (*Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cps := m.checkpoints[patternID]
	if len(cps) == 0 {
		return nil, false
	}
	return cps[len(cps)-1], true
}

// ExecuteStrategy applies a recovery strategy to the context after cause
// failed. A failed recovery is reported via Result.Success, not an error.
func (m *Manager) ExecuteStrategy(patternID string, strat Strategy, pc *pattern.Context, cause error) Result {
	start := time.Now()
	res := Result{
		PatternID: patternID,
		Strategy:  strat.Type,
	}

	switch strat.Type {
	case StrategyRollback, StrategyPartialRollback:
		m.applyRollback(&res, patternID, strat, pc)
	case StrategyRetry:
		m.applyRetryPrep(&res, strat, pc)
	default:
		res.Error = fmt.Sprintf("unknown recovery strategy: %s", strat.Type)
	}

	res.Duration = time.Since(start)

	causeMsg := ""
	if cause != nil {
		causeMsg = cause.Error()
	}
	slog.Info("recovery strategy executed",
		"pattern", patternID, "strategy", strat.Type, "success", res.Success, "cause", causeMsg)

	m.record(Record{
		PatternID:    patternID,
		Timestamp:    start,
		Strategy:     strat.Type,
		Success:      res.Success,
		Duration:     res.Duration,
		ErrorMessage: res.Error,
	})

	return res
}

func (m *Manager) applyRollback(res *Result, patternID string, strat Strategy, pc *pattern.Context) {
	var cp *Checkpoint
	var ok bool
	if strat.CheckpointID != "" {
		cp, ok = m.Checkpoint(strat.CheckpointID)
	} else {
		cp, ok = m.LatestCheckpoint(patternID)
	}
	if !ok {
		res.Error = fmt.Sprintf("no checkpoint available for pattern %s", patternID)
		return
	}
	if pc == nil {
		res.Error = "no context to restore into"
		return
	}
	res.CheckpointID = cp.ID

	if strat.RestoreResources && cp.Resources != nil {
		pc.Resources = cp.Resources.Clone()
	}
	if strat.RestoreAgentStates {
		agents := make([]pattern.AgentInfo, len(cp.Agents))
		for i, a := range cp.Agents {
			agents[i] = a.Clone()
		}
		pc.Agents = agents
	}

	restored := cp.State.Clone()
	if strat.Type == StrategyPartialRollback && strat.PreserveSuccessfulSteps && pc.State != nil {
		// Keep results of steps that already completed so they are not
		// redone after recovery.
		if steps, ok := pc.State.Data["completed_steps"]; ok {
			restored.Data["completed_steps"] = steps
		}
	}
	if restored != nil {
		// Recovery hands the execution back in a runnable, non-terminal form.
		restored.Phase = pattern.PhaseExecuting
		restored.Status = pattern.StatusRunning
		restored.EndedAt = nil
		delete(restored.Data, "error_message")
		pc.State = restored
	}

	res.Success = true
}

func (m *Manager) applyRetryPrep(res *Result, strat Strategy, pc *pattern.Context) {
	if pc == nil || pc.State == nil {
		res.Error = "no state to prepare for retry"
		return
	}
	if strat.MaxAttempts > 0 {
		if attempts, ok := pc.State.Data["recovery_attempts"].(int); ok && attempts >= strat.MaxAttempts {
			res.Error = fmt.Sprintf("retry attempts exhausted (%d)", attempts)
			return
		}
	}

	attempts, _ := pc.State.Data["recovery_attempts"].(int)
	delay := strat.BackoffDelay
	if strat.ExponentialBackoff && attempts > 0 {
		delay = delay << uint(attempts)
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	pc.State.Data["recovery_attempts"] = attempts + 1
	pc.State.Phase = pattern.PhaseExecuting
	pc.State.Status = pattern.StatusRunning
	pc.State.EndedAt = nil
	delete(pc.State.Data, "error_message")
	res.Success = true
}

func (m *Manager) record(r Record) {
	m.mu.Lock()
	m.history = append(m.history, r)
	if len(m.history) > m.historyLimit {
		m.history = m.history[len(m.history)-m.historyLimit:]
	}
	m.mu.Unlock()

	if m.db != nil {
		err := m.db.SaveRecoveryRecord(&store.RecoveryRecord{
			PatternID: r.PatternID,
			Strategy:  string(r.Strategy),
			Success:   r.Success,
			Duration:  r.Duration,
			Error:     r.ErrorMessage,
		})
		if err != nil {
			slog.Warn("failed to persist recovery record", "pattern", r.PatternID, "error", err)
		}
	}
}

// History returns recorded attempts, oldest first, optionally filtered by
// pattern id.
func (m *Manager) History(patternID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.history {
		if patternID == "" || r.PatternID == patternID {
			out = append(out, r)
		}
	}
	return out
}

// Statistics derives aggregates from the in-memory history.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Statistics{ByStrategy: make(map[StrategyType]int)}
	var total time.Duration
	for _, r := range m.history {
		st.TotalAttempts++
		if r.Success {
			st.SuccessfulAttempts++
		} else {
			st.FailedAttempts++
		}
		st.ByStrategy[r.Strategy]++
		total += r.Duration
	}
	if st.TotalAttempts > 0 {
		st.AverageDuration = total / time.Duration(st.TotalAttempts)
	}
	return st
}
