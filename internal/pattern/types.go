package pattern

import (
	"time"
)

// AgentStatus is the lifecycle state of an agent as reported by the caller's
// agent registry. The engine never transitions agents itself; it only reads
// the snapshot it is handed per execution.
type AgentStatus string

const (
	AgentIdle          AgentStatus = "idle"
	AgentBusy          AgentStatus = "busy"
	AgentWorking       AgentStatus = "working"
	AgentCollaborating AgentStatus = "collaborating"
	AgentBlocked       AgentStatus = "blocked"
	AgentOffline       AgentStatus = "offline"
	AgentFailed        AgentStatus = "failed"
)

// PerformanceMetrics carries the caller-maintained track record of an agent.
type PerformanceMetrics struct {
	TasksCompleted     int           `json:"tasks_completed"`
	TasksFailed        int           `json:"tasks_failed"`
	SuccessRate        float64       `json:"success_rate"`
	AvgCompletionTime  time.Duration `json:"avg_completion_time"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	CollaborationScore float64       `json:"collaboration_score"`
}

// AgentInfo is a snapshot of one participant. Ownership stays with the
// caller; the engine does not persist agents across executions.
type AgentInfo struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Capabilities  []string           `json:"capabilities"`
	Status        AgentStatus        `json:"status"`
	Metrics       PerformanceMetrics `json:"performance_metrics"`
	Workload      float64            `json:"current_workload"` // 0..1
	AssignedTasks []string           `json:"assigned_tasks,omitempty"`
}

// HasCapability reports whether the agent holds the named capability.
func (a AgentInfo) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the agent snapshot.
func (a AgentInfo) Clone() AgentInfo {
	out := a
	out.Capabilities = append([]string(nil), a.Capabilities...)
	out.AssignedTasks = append([]string(nil), a.AssignedTasks...)
	return out
}

// ConstraintType identifies how a constraint's parameters are interpreted.
// Values outside the predeclared set are treated as custom constraint types;
// validation reports them as not implemented without blocking execution.
type ConstraintType string

const (
	ConstraintResourceAvailability ConstraintType = "resource_availability"
	ConstraintAgentCapability      ConstraintType = "agent_capability"
	ConstraintTemporal             ConstraintType = "temporal"
	ConstraintDependency           ConstraintType = "dependency"
	ConstraintPerformance          ConstraintType = "performance"
)

// Constraint restricts an execution. Hard violations become validation
// errors, soft violations become warnings.
type Constraint struct {
	ID         string         `json:"id"`
	Type       ConstraintType `json:"constraint_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority"`
	Hard       bool           `json:"is_hard"`
}

// Phase is the workflow stage of an execution.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseCoordinating Phase = "coordinating"
	PhaseFinalizing   Phase = "finalizing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// Status is the outcome/lifecycle flag of an execution. It is kept
// consistent with Phase: StatusCompleted iff PhaseCompleted, StatusFailed
// iff PhaseFailed.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// State is the mutable execution record for one pattern run. It is created
// by the executor before validation and retained in the active-pattern table
// until queried or recycled.
type State struct {
	PatternID string         `json:"pattern_id"`
	Phase     Phase          `json:"phase"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Progress  float64        `json:"progress"` // 0..1
	Status    Status         `json:"status"`
	Data      map[string]any `json:"data"`
}

// NewState returns a freshly initialized execution record.
func NewState(patternID string) *State {
	return &State{
		PatternID: patternID,
		Phase:     PhaseInitializing,
		StartedAt: time.Now(),
		Status:    StatusPending,
		Data:      make(map[string]any),
	}
}

// Complete transitions the state to its successful terminal form.
func (s *State) Complete() {
	now := time.Now()
	s.Phase = PhaseCompleted
	s.Status = StatusCompleted
	s.Progress = 1.0
	s.EndedAt = &now
}

// Fail transitions the state to its failed terminal form and records the
// reason under Data["error_message"].
func (s *State) Fail(reason string) {
	now := time.Now()
	s.Phase = PhaseFailed
	s.Status = StatusFailed
	s.EndedAt = &now
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data["error_message"] = reason
}

// Clone returns a deep-enough copy for checkpointing: the Data map is
// copied one level deep, which covers everything the engine itself writes.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	out.Data = make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		out.Data[k] = v
	}
	return &out
}

// Config is the per-execution policy.
type Config struct {
	Timeout          time.Duration  `json:"timeout"`
	MaxRetries       int            `json:"max_retries"`
	EnableRollback   bool           `json:"enable_rollback"`
	EnableMonitoring bool           `json:"enable_monitoring"`
	Custom           map[string]any `json:"custom_config,omitempty"`
}

// DefaultConfig returns the engine defaults used when the caller does not
// override per-execution policy.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Minute,
		MaxRetries:       3,
		EnableRollback:   true,
		EnableMonitoring: true,
	}
}

// Context is the full input bundle for one pattern operation: agents,
// resources, constraints, execution state, and policy. Patterns may be
// nested; ParentPatternID carries the composition chain.
type Context struct {
	Agents          []AgentInfo  `json:"agents"`
	Resources       *ResourcePool `json:"resources"`
	Constraints     []Constraint `json:"constraints,omitempty"`
	State           *State       `json:"state"`
	Config          Config       `json:"config"`
	SessionID       string       `json:"session_id,omitempty"`
	ParentPatternID string       `json:"parent_pattern_id,omitempty"`
}

// IdleAgents returns the agents currently reported idle.
func (c *Context) IdleAgents() []AgentInfo {
	var out []AgentInfo
	for _, a := range c.Agents {
		if a.Status == AgentIdle {
			out = append(out, a)
		}
	}
	return out
}

// AgentsWithCapability returns the agents holding the named capability.
func (c *Context) AgentsWithCapability(capability string) []AgentInfo {
	var out []AgentInfo
	for _, a := range c.Agents {
		if a.HasCapability(capability) {
			out = append(out, a)
		}
	}
	return out
}

// ResultMetrics describes how an execution performed.
type ResultMetrics struct {
	ExecutionTime         time.Duration `json:"execution_time"`
	CoordinationOverhead  time.Duration `json:"coordination_overhead"`
	ResourceUtilization   float64       `json:"resource_utilization"`
	AgentEfficiency       float64       `json:"agent_efficiency"`
	CommunicationOverhead int           `json:"communication_overhead"`
}

// Result is the output of one pattern execution.
type Result struct {
	PatternID     string         `json:"pattern_id"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Metrics       ResultMetrics  `json:"performance_metrics"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CompletedAt   time.Time      `json:"completed_at"`
	Metadata      Metadata       `json:"metadata"`
	ExecutionTime time.Duration  `json:"execution_time_ms"`
}

// Category groups patterns by the coordination problem they solve.
type Category string

const (
	CategoryTaskDistribution      Category = "task_distribution"
	CategoryConflictResolution    Category = "conflict_resolution"
	CategoryResourceManagement    Category = "resource_management"
	CategoryWorkflowOrchestration Category = "workflow_orchestration"
	CategoryStateSynchronization  Category = "state_synchronization"
	CategoryCollaboration         Category = "collaboration"
	CategoryCustom                Category = "custom"
)

// Metadata is the static descriptor of a pattern implementation.
type Metadata struct {
	ID                     string        `json:"id"`
	Name                   string        `json:"name"`
	Description            string        `json:"description"`
	Version                string        `json:"version"`
	Category               Category      `json:"category"`
	Author                 string        `json:"author,omitempty"`
	CreatedAt              time.Time     `json:"created_at,omitempty"`
	UpdatedAt              time.Time     `json:"updated_at,omitempty"`
	Tags                   []string      `json:"tags,omitempty"`
	RequiredCapabilities   []string      `json:"required_capabilities,omitempty"`
	RequiredResources      []string      `json:"required_resources,omitempty"`
	Constraints            []string      `json:"constraints,omitempty"`
	Dependencies           []string      `json:"dependencies,omitempty"`
	Complexity             int           `json:"complexity"` // 1..10
	EstimatedExecutionTime time.Duration `json:"estimated_execution_time"`
}

// ValidationResult aggregates the findings of one or more validation rules.
// Errors block execution; warnings are logged and stored but do not block.
type ValidationResult struct {
	Valid    bool           `json:"is_valid"`
	Errors   []string       `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddError records a blocking finding and marks the result invalid.
func (r *ValidationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

// AddWarning records a non-blocking finding.
func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// SetDetail attaches structured context to the result.
func (r *ValidationResult) SetDetail(key string, value any) {
	if r.Details == nil {
		r.Details = make(map[string]any)
	}
	r.Details[key] = value
}

// Merge folds another result into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	for k, v := range other.Details {
		r.SetDetail(k, v)
	}
	if !other.Valid {
		r.Valid = false
	}
}
