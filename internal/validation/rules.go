package validation

import (
	"fmt"
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

// Resource thresholds. Below the minimum is an error, below the low-water
// mark is a warning.
const (
	minAvailableMemory = 100 << 20 // 100MB
	lowAvailableMemory = 500 << 20 // 500MB
	lowAvailableCores  = 2
	lowBandwidthMbps   = 100

	memoryUtilizationWarn  = 0.9
	cpuUtilizationWarn     = 0.8
	networkUtilizationWarn = 0.7
)

// toStringSlice tolerantly extracts a list of strings from free-form
// state/config data ([]string or []any of strings).
func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// agentCapabilityRule checks that every required capability is covered and
// that at least one agent is idle.
type agentCapabilityRule struct{}

func (agentCapabilityRule) Name() string        { return "agent_capability" }
func (agentCapabilityRule) Description() string { return "required capabilities are held by available agents" }
func (agentCapabilityRule) Priority() int       { return 100 }

func (agentCapabilityRule) Validate(pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult {
	r := pattern.NewValidationResult()

	for _, capability := range md.RequiredCapabilities {
		if len(pc.AgentsWithCapability(capability)) == 0 {
			r.AddError(fmt.Sprintf("No agent found with required capability: %s", capability))
		}
	}

	idle := len(pc.IdleAgents())
	if idle == 0 {
		r.AddError("No idle agents available for pattern execution")
	} else if idle < 2 {
		r.AddWarning("Fewer than 2 idle agents available; coordination headroom is limited")
	}
	r.SetDetail("idle_agents", idle)
	return r
}

// resourceAvailabilityRule checks memory, CPU, network, and declared custom
// resources against the pool.
type resourceAvailabilityRule struct{}

func (resourceAvailabilityRule) Name() string        { return "resource_availability" }
func (resourceAvailabilityRule) Description() string { return "pool has headroom for execution" }
func (resourceAvailabilityRule) Priority() int       { return 90 }

func (resourceAvailabilityRule) Validate(pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult {
	r := pattern.NewValidationResult()
	pool := pc.Resources
	if pool == nil {
		r.AddError("No resource pool in context")
		return r
	}

	switch {
	case pool.Memory.AvailableBytes < minAvailableMemory:
		r.AddError(fmt.Sprintf("Insufficient available memory: %d bytes (minimum %d)", pool.Memory.AvailableBytes, uint64(minAvailableMemory)))
	case pool.Memory.AvailableBytes < lowAvailableMemory:
		r.AddWarning(fmt.Sprintf("Low available memory: %d bytes", pool.Memory.AvailableBytes))
	}
	if u := pool.MemoryUtilization(); u > memoryUtilizationWarn {
		r.AddWarning(fmt.Sprintf("Memory utilization at %.0f%%", u*100))
	}

	switch {
	case pool.CPU.AvailableCores <= 0:
		r.AddError("No available CPU cores")
	case pool.CPU.AvailableCores < lowAvailableCores:
		r.AddWarning(fmt.Sprintf("Low available CPU cores: %.1f", pool.CPU.AvailableCores))
	}
	if u := pool.CPUUtilization(); u > cpuUtilizationWarn {
		r.AddWarning(fmt.Sprintf("CPU utilization at %.0f%%", u*100))
	}

	if pool.Network.AvailableBandwidthMbps < lowBandwidthMbps {
		r.AddWarning(fmt.Sprintf("Low available bandwidth: %.0f Mbps", pool.Network.AvailableBandwidthMbps))
	}
	if u := pool.NetworkUtilization(); u > networkUtilizationWarn {
		r.AddWarning(fmt.Sprintf("Network utilization at %.0f%%", u*100))
	}

	for _, name := range md.RequiredResources {
		switch name {
		case "memory", "cpu", "network":
			// covered above
		default:
			if _, ok := pool.Custom[name]; !ok {
				r.AddWarning(fmt.Sprintf("Unknown required resource: %s", name))
			}
		}
	}

	return r
}

// constraintRule evaluates every context constraint by type. Hard
// violations are errors, soft violations warnings. Types the engine does
// not implement are reported and do not block.
type constraintRule struct{}

func (constraintRule) Name() string        { return "constraint_validation" }
func (constraintRule) Description() string { return "context constraints are satisfied" }
func (constraintRule) Priority() int       { return 80 }

func (constraintRule) Validate(pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult {
	r := pattern.NewValidationResult()

	report := func(c pattern.Constraint, msg string) {
		if c.Hard {
			r.AddError(fmt.Sprintf("Hard constraint %s violated: %s", c.ID, msg))
		} else {
			r.AddWarning(fmt.Sprintf("Soft constraint %s violated: %s", c.ID, msg))
		}
	}

	for _, c := range pc.Constraints {
		switch c.Type {
		case pattern.ConstraintResourceAvailability:
			if pc.Resources == nil {
				report(c, "no resource pool")
				continue
			}
			if v, ok := numberParam(c.Parameters, "min_memory_bytes"); ok && float64(pc.Resources.Memory.AvailableBytes) < v {
				report(c, fmt.Sprintf("available memory below %d bytes", uint64(v)))
			}
			if v, ok := numberParam(c.Parameters, "min_cores"); ok && pc.Resources.CPU.AvailableCores < v {
				report(c, fmt.Sprintf("available cores below %.1f", v))
			}
		case pattern.ConstraintAgentCapability:
			capability, _ := c.Parameters["capability"].(string)
			if capability == "" {
				continue
			}
			holders := pc.AgentsWithCapability(capability)
			min := 1.0
			if v, ok := numberParam(c.Parameters, "min_agents"); ok {
				min = v
			}
			if float64(len(holders)) < min {
				report(c, fmt.Sprintf("fewer than %.0f agents with capability %s", min, capability))
			}
		case pattern.ConstraintTemporal:
			if v, ok := numberParam(c.Parameters, "max_execution_seconds"); ok {
				if md.EstimatedExecutionTime > time.Duration(v*float64(time.Second)) {
					report(c, fmt.Sprintf("estimated execution exceeds %.0fs", v))
				}
			}
		case pattern.ConstraintDependency:
			for _, dep := range toStringSlice(c.Parameters["depends_on"]) {
				if pc.State == nil || pc.State.Data[dep] == nil {
					report(c, fmt.Sprintf("dependency %s not satisfied", dep))
				}
			}
		case pattern.ConstraintPerformance:
			if v, ok := numberParam(c.Parameters, "min_success_rate"); ok {
				for _, a := range pc.Agents {
					if a.Metrics.SuccessRate < v {
						report(c, fmt.Sprintf("agent %s success rate %.2f below %.2f", a.ID, a.Metrics.SuccessRate, v))
						break
					}
				}
			}
		default:
			r.AddWarning(fmt.Sprintf("Constraint type %s not implemented, skipping %s", c.Type, c.ID))
		}
	}
	return r
}

func numberParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// complexityRule warns when the declared complexity outstrips the context
// and checks the estimated execution time against the configured timeout.
type complexityRule struct{}

func (complexityRule) Name() string        { return "complexity_validation" }
func (complexityRule) Description() string { return "context is sized for the pattern's complexity" }
func (complexityRule) Priority() int       { return 70 }

func (complexityRule) Validate(pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult {
	r := pattern.NewValidationResult()

	if md.Complexity > 7 && pc.Resources != nil {
		if pc.Resources.CPU.AvailableCores < 2 || pc.Resources.Memory.AvailableBytes < lowAvailableMemory {
			r.AddWarning(fmt.Sprintf("High complexity pattern (%d) with constrained resources", md.Complexity))
		}
	}
	if md.Complexity > 5 && len(pc.Agents) < 2 {
		r.AddWarning(fmt.Sprintf("Complexity %d pattern with fewer than 2 agents", md.Complexity))
	}

	timeout := pc.Config.Timeout
	if timeout > 0 && md.EstimatedExecutionTime > 0 {
		if md.EstimatedExecutionTime > timeout {
			r.AddError(fmt.Sprintf("Estimated execution time %s exceeds timeout %s", md.EstimatedExecutionTime, timeout))
		} else if timeout-md.EstimatedExecutionTime <= 10*time.Second {
			r.AddWarning(fmt.Sprintf("Estimated execution time %s is within 10s of timeout %s", md.EstimatedExecutionTime, timeout))
		}
	}
	return r
}

// dependencyRule checks declared pattern/agent/service/resource
// dependencies recorded in the execution state.
type dependencyRule struct{}

func (dependencyRule) Name() string        { return "dependency_validation" }
func (dependencyRule) Description() string { return "declared dependencies are available" }
func (dependencyRule) Priority() int       { return 9 }

func (dependencyRule) Validate(pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult {
	r := pattern.NewValidationResult()

	for _, dep := range md.Dependencies {
		if dep == md.ID {
			r.AddError(fmt.Sprintf("Pattern %s declares itself as a dependency", md.ID))
		}
	}

	if pc.State == nil {
		return r
	}

	available := map[string]bool{}
	for _, p := range toStringSlice(pc.State.Data["available_patterns"]) {
		available[p] = true
	}
	for _, dep := range toStringSlice(pc.State.Data["pattern_dependencies"]) {
		if !available[dep] {
			r.AddError(fmt.Sprintf("Missing pattern dependency: %s", dep))
		}
	}

	agentIDs := map[string]bool{}
	for _, a := range pc.Agents {
		agentIDs[a.ID] = true
	}
	for _, dep := range toStringSlice(pc.State.Data["agent_dependencies"]) {
		if !agentIDs[dep] {
			r.AddError(fmt.Sprintf("Missing agent dependency: %s", dep))
		}
	}

	services := map[string]bool{}
	for _, svc := range toStringSlice(pc.State.Data["available_services"]) {
		services[svc] = true
	}
	for _, dep := range toStringSlice(pc.State.Data["service_dependencies"]) {
		if !services[dep] {
			r.AddError(fmt.Sprintf("Missing service dependency: %s", dep))
		}
	}

	for _, dep := range toStringSlice(pc.State.Data["resource_dependencies"]) {
		switch dep {
		case "memory", "cpu", "network":
			if pc.Resources == nil {
				r.AddError(fmt.Sprintf("Declared resource %s not available", dep))
			}
		default:
			if pc.Resources == nil {
				r.AddError(fmt.Sprintf("Declared resource %s not available", dep))
			} else if _, ok := pc.Resources.Custom[dep]; !ok {
				r.AddError(fmt.Sprintf("Declared resource %s not available", dep))
			}
		}
	}

	return r
}

// configurationRule sanity-checks the per-execution policy.
type configurationRule struct{}

func (configurationRule) Name() string        { return "configuration_validation" }
func (configurationRule) Description() string { return "execution policy is sane" }
func (configurationRule) Priority() int       { return 8 }

func (configurationRule) Validate(pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult {
	r := pattern.NewValidationResult()
	cfg := pc.Config

	if cfg.Timeout == 0 {
		r.AddError("Timeout must be greater than zero")
	} else if md.EstimatedExecutionTime > 0 && cfg.Timeout < md.EstimatedExecutionTime {
		r.AddWarning(fmt.Sprintf("Timeout %s is below estimated execution time %s", cfg.Timeout, md.EstimatedExecutionTime))
	}

	if cfg.MaxRetries > 10 {
		r.AddWarning(fmt.Sprintf("max_retries of %d is unusually high", cfg.MaxRetries))
	}

	for _, dep := range toStringSlice(cfg.Custom["required_dependencies"]) {
		if pc.State == nil || pc.State.Data[dep] == nil {
			r.AddError(fmt.Sprintf("Configured dependency %s not satisfied in state", dep))
		}
	}

	if cfg.EnableMonitoring {
		if _, ok := cfg.Custom["monitoring_endpoint"]; !ok {
			r.AddWarning("Monitoring enabled without a monitoring_endpoint configured")
		}
	}
	if cfg.EnableRollback {
		if _, ok := cfg.Custom["checkpoint_interval"]; !ok {
			r.AddWarning("Rollback enabled without a checkpoint_interval configured")
		}
	}

	return r
}

// stateRule enforces the phase/status consistency invariants on the
// execution state and sanity-checks agent bookkeeping.
type stateRule struct{}

func (stateRule) Name() string        { return "state_validation" }
func (stateRule) Description() string { return "execution state is internally consistent" }
func (stateRule) Priority() int       { return 7 }

func (stateRule) Validate(pc *pattern.Context, md pattern.Metadata) *pattern.ValidationResult {
	r := pattern.NewValidationResult()

	if s := pc.State; s != nil {
		if s.Status == pattern.StatusCompleted && s.Phase != pattern.PhaseCompleted {
			r.AddError(fmt.Sprintf("Status completed but phase is %s", s.Phase))
		}
		if s.Phase == pattern.PhaseCompleted && s.Status != pattern.StatusCompleted {
			r.AddError(fmt.Sprintf("Phase completed but status is %s", s.Status))
		}
		if s.Status == pattern.StatusFailed && s.Phase != pattern.PhaseFailed {
			r.AddError(fmt.Sprintf("Status failed but phase is %s", s.Phase))
		}
		if s.Phase == pattern.PhaseFailed && s.Status != pattern.StatusFailed {
			r.AddError(fmt.Sprintf("Phase failed but status is %s", s.Status))
		}
		if s.Progress < 0 || s.Progress > 1 {
			r.AddError(fmt.Sprintf("Progress %.2f outside [0,1]", s.Progress))
		}
		if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
			r.AddError("ended_at precedes started_at")
		}
	}

	for _, a := range pc.Agents {
		if a.Workload < 0 || a.Workload > 1 {
			r.AddWarning(fmt.Sprintf("Agent %s workload %.2f outside [0,1]", a.ID, a.Workload))
		}
		if a.Metrics.SuccessRate < 0 || a.Metrics.SuccessRate > 1 {
			r.AddWarning(fmt.Sprintf("Agent %s success rate %.2f outside [0,1]", a.ID, a.Metrics.SuccessRate))
		}
	}

	if pc.Resources != nil && !pc.Resources.Balanced() {
		r.AddWarning("Resource pool accounting is unbalanced: allocated + available exceeds total")
	}

	return r
}
