// Package validation runs a prioritized chain of independent rules over a
// pattern context before every execution. All rules always run; the engine
// produces a full report rather than short-circuiting on the first error.
package validation

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

const historyLimit = 1000

// Rule is one independent validation check. Higher priority runs first;
// ties keep registration order.
type Rule interface {
	Name() string
	Description() string
	Priority() int
	Validate(pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult
}

// HistoryEntry records one engine run for statistics.
type HistoryEntry struct {
	PatternID    string        `json:"pattern_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
	Valid        bool          `json:"valid"`
	ErrorCount   int           `json:"error_count"`
	WarningCount int           `json:"warning_count"`
	RuleCount    int           `json:"rule_count"`
}

// Statistics are derived from the bounded history.
type Statistics struct {
	TotalValidations      int           `json:"total_validations"`
	SuccessfulValidations int           `json:"successful_validations"`
	FailedValidations     int           `json:"failed_validations"`
	AverageDuration       time.Duration `json:"average_validation_time"`
	TotalErrors           int           `json:"total_errors"`
	TotalWarnings         int           `json:"total_warnings"`
}

// Engine owns the rule chain and a bounded FIFO history of runs.
type Engine struct {
	mu      sync.RWMutex
	rules   []Rule
	history []HistoryEntry
}

// NewEngine returns an engine carrying the built-in rule set.
func NewEngine() *Engine {
	e := &Engine{}
	for _, r := range []Rule{
		&agentCapabilityRule{},
		&resourceAvailabilityRule{},
		&constraintRule{},
		&complexityRule{},
		&dependencyRule{},
		&configurationRule{},
		&stateRule{},
	} {
		e.AddRule(r)
	}
	return e
}

// AddRule inserts a rule, keeping the chain ordered by descending priority.
// Registration order breaks ties.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority() > e.rules[j].Priority()
	})
}

// Rules returns the chain in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// ValidatePattern runs every rule and aggregates errors, warnings, and
// details into a single result, recording the run in the history.
func (e *Engine) ValidatePattern(patternID string, pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult {
	start := time.Now()
	rules := e.Rules()

	result := pattern.NewValidationResult()
	for _, r := range rules {
		rr := r.Validate(pc, md)
		result.Merge(rr)
	}

	duration := time.Since(start)
	if !result.Valid {
		slog.Debug("validation failed", "pattern", patternID, "errors", len(result.Errors), "warnings", len(result.Warnings))
	}

	e.mu.Lock()
	e.history = append(e.history, HistoryEntry{
		PatternID:    patternID,
		Timestamp:    start,
		Duration:     duration,
		Valid:        result.Valid,
		ErrorCount:   len(result.Errors),
		WarningCount: len(result.Warnings),
		RuleCount:    len(rules),
	})
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
	e.mu.Unlock()

	return result
}

// History returns a copy of the recorded runs, oldest first.
func (e *Engine) History() []HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]HistoryEntry(nil), e.history...)
}

// Statistics derives aggregate counters from the history.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var st Statistics
	var total time.Duration
	for _, h := range e.history {
		st.TotalValidations++
		if h.Valid {
			st.SuccessfulValidations++
		} else {
			st.FailedValidations++
		}
		st.TotalErrors += h.ErrorCount
		st.TotalWarnings += h.WarningCount
		total += h.Duration
	}
	if st.TotalValidations > 0 {
		st.AverageDuration = total / time.Duration(st.TotalValidations)
	}
	return st
}
