package validation

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

func testContext() *pattern.Context {
	return &pattern.Context{
		Agents: []pattern.AgentInfo{
			{ID: "a1", Status: pattern.AgentIdle, Capabilities: []string{"compute"}, Metrics: pattern.PerformanceMetrics{SuccessRate: 0.95}},
			{ID: "a2", Status: pattern.AgentIdle, Capabilities: []string{"storage"}, Metrics: pattern.PerformanceMetrics{SuccessRate: 0.9}},
		},
		Resources: pattern.NewResourcePool(2<<30, 4, 1000),
		State:     pattern.NewState("p1"),
		Config: pattern.Config{
			Timeout:    time.Minute,
			MaxRetries: 3,
		},
	}
}

func testMetadata() pattern.Metadata {
	return pattern.Metadata{
		ID:         "p1",
		Name:       "test pattern",
		Complexity: 3,
	}
}

func hasError(r *pattern.ValidationResult, substr string) bool {
	for _, e := range r.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func hasWarning(r *pattern.ValidationResult, substr string) bool {
	for _, w := range r.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestValidateCleanContext(t *testing.T) {
	e := NewEngine()
	res := e.ValidatePattern("p1", testContext(), testMetadata())
	if !res.Valid {
		t.Fatalf("expected valid result, got errors: %v", res.Errors)
	}
}

func TestMissingCapabilityBlocks(t *testing.T) {
	e := NewEngine()
	md := testMetadata()
	md.RequiredCapabilities = []string{"gpu"}

	res := e.ValidatePattern("p1", testContext(), md)
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	want := "No agent found with required capability: gpu"
	found := false
	for _, err := range res.Errors {
		if err == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected error %q, got %v", want, res.Errors)
	}
}

func TestNoIdleAgentsBlocks(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	for i := range pc.Agents {
		pc.Agents[i].Status = pattern.AgentBusy
	}

	res := e.ValidatePattern("p1", pc, testMetadata())
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if !hasError(res, "No idle agents available") {
		t.Errorf("expected idle-agent error, got %v", res.Errors)
	}
	if res.Details["idle_agents"] != 0 {
		t.Errorf("expected idle_agents detail 0, got %v", res.Details["idle_agents"])
	}
}

func TestSingleIdleAgentWarns(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	pc.Agents[1].Status = pattern.AgentBusy

	res := e.ValidatePattern("p1", pc, testMetadata())
	if !res.Valid {
		t.Fatalf("a single idle agent must not block: %v", res.Errors)
	}
	if !hasWarning(res, "Fewer than 2 idle agents") {
		t.Errorf("expected headroom warning, got %v", res.Warnings)
	}
}

func TestMemoryThresholds(t *testing.T) {
	e := NewEngine()

	// 50MB available: below the minimum, blocks.
	pc := testContext()
	pc.Resources.Memory.AvailableBytes = 50 << 20
	res := e.ValidatePattern("p1", pc, testMetadata())
	if res.Valid {
		t.Fatal("expected 50MB available memory to block")
	}
	if !hasError(res, "Insufficient available memory") {
		t.Errorf("expected memory error, got %v", res.Errors)
	}

	// 300MB available: above the minimum, warns only.
	pc = testContext()
	pc.Resources.Memory.AvailableBytes = 300 << 20
	res = e.ValidatePattern("p1", pc, testMetadata())
	if !res.Valid {
		t.Fatalf("expected 300MB available memory to pass: %v", res.Errors)
	}
	if !hasWarning(res, "Low available memory") {
		t.Errorf("expected low-memory warning, got %v", res.Warnings)
	}
}

func TestNoCoresBlocks(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	pc.Resources.CPU.AvailableCores = 0

	res := e.ValidatePattern("p1", pc, testMetadata())
	if res.Valid {
		t.Fatal("expected zero available cores to block")
	}
	if !hasError(res, "No available CPU cores") {
		t.Errorf("expected cpu error, got %v", res.Errors)
	}
}

func TestHardAndSoftConstraints(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	pc.Constraints = []pattern.Constraint{
		{
			ID:   "c-hard",
			Type: pattern.ConstraintAgentCapability,
			Hard: true,
			Parameters: map[string]any{
				"capability": "gpu",
			},
		},
		{
			ID:   "c-soft",
			Type: pattern.ConstraintResourceAvailability,
			Parameters: map[string]any{
				"min_cores": 8.0,
			},
		},
	}

	res := e.ValidatePattern("p1", pc, testMetadata())
	if res.Valid {
		t.Fatal("expected hard violation to block")
	}
	if !hasError(res, "Hard constraint c-hard violated") {
		t.Errorf("expected hard constraint error, got %v", res.Errors)
	}
	if !hasWarning(res, "Soft constraint c-soft violated") {
		t.Errorf("expected soft constraint warning, got %v", res.Warnings)
	}
}

func TestUnknownConstraintTypeWarns(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	pc.Constraints = []pattern.Constraint{
		{ID: "c1", Type: "geo_affinity", Hard: true},
	}

	res := e.ValidatePattern("p1", pc, testMetadata())
	if !res.Valid {
		t.Fatalf("unimplemented constraint types must not block: %v", res.Errors)
	}
	if !hasWarning(res, "Constraint type geo_affinity not implemented") {
		t.Errorf("expected not-implemented warning, got %v", res.Warnings)
	}
}

func TestEstimateVersusTimeout(t *testing.T) {
	e := NewEngine()
	md := testMetadata()
	md.EstimatedExecutionTime = 2 * time.Minute

	res := e.ValidatePattern("p1", testContext(), md)
	if res.Valid {
		t.Fatal("expected estimate above timeout to block")
	}
	if !hasError(res, "exceeds timeout") {
		t.Errorf("expected estimate/timeout error, got %v", res.Errors)
	}

	md.EstimatedExecutionTime = 55 * time.Second
	res = e.ValidatePattern("p1", testContext(), md)
	if !res.Valid {
		t.Fatalf("estimate within timeout must not block: %v", res.Errors)
	}
	if !hasWarning(res, "within 10s of timeout") {
		t.Errorf("expected near-timeout warning, got %v", res.Warnings)
	}
}

func TestZeroTimeoutBlocks(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	pc.Config.Timeout = 0

	res := e.ValidatePattern("p1", pc, testMetadata())
	if res.Valid {
		t.Fatal("expected zero timeout to block")
	}
	if !hasError(res, "Timeout must be greater than zero") {
		t.Errorf("expected timeout error, got %v", res.Errors)
	}
}

func TestStateConsistencyInvariants(t *testing.T) {
	e := NewEngine()

	pc := testContext()
	pc.State.Status = pattern.StatusCompleted // phase still initializing
	res := e.ValidatePattern("p1", pc, testMetadata())
	if !hasError(res, "Status completed but phase is") {
		t.Errorf("expected phase/status mismatch error, got %v", res.Errors)
	}

	pc = testContext()
	pc.State.Progress = 1.5
	res = e.ValidatePattern("p1", pc, testMetadata())
	if !hasError(res, "outside [0,1]") {
		t.Errorf("expected progress range error, got %v", res.Errors)
	}

	pc = testContext()
	earlier := pc.State.StartedAt.Add(-time.Minute)
	pc.State.EndedAt = &earlier
	res = e.ValidatePattern("p1", pc, testMetadata())
	if !hasError(res, "ended_at precedes started_at") {
		t.Errorf("expected timestamp order error, got %v", res.Errors)
	}
}

func TestSelfDependencyBlocks(t *testing.T) {
	e := NewEngine()
	md := testMetadata()
	md.Dependencies = []string{md.ID}

	res := e.ValidatePattern("p1", testContext(), md)
	if res.Valid {
		t.Fatal("expected self-dependency to block")
	}
	if !hasError(res, "declares itself as a dependency") {
		t.Errorf("expected self-dependency error, got %v", res.Errors)
	}
}

func TestStateDependencies(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	pc.State.Data["pattern_dependencies"] = []string{"warmup"}
	pc.State.Data["available_patterns"] = []string{"other"}
	pc.State.Data["agent_dependencies"] = []string{"a1", "ghost"}

	res := e.ValidatePattern("p1", pc, testMetadata())
	if res.Valid {
		t.Fatal("expected missing dependencies to block")
	}
	if !hasError(res, "Missing pattern dependency: warmup") {
		t.Errorf("expected pattern dependency error, got %v", res.Errors)
	}
	if !hasError(res, "Missing agent dependency: ghost") {
		t.Errorf("expected agent dependency error, got %v", res.Errors)
	}
	if hasError(res, "Missing agent dependency: a1") {
		t.Error("present agent must not be reported missing")
	}
}

func TestValidationIdempotent(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	md := testMetadata()
	md.RequiredCapabilities = []string{"gpu"}

	first := e.ValidatePattern("p1", pc, md)
	second := e.ValidatePattern("p1", pc, md)

	if !reflect.DeepEqual(first.Errors, second.Errors) {
		t.Errorf("errors differ between runs: %v vs %v", first.Errors, second.Errors)
	}
	if !reflect.DeepEqual(first.Warnings, second.Warnings) {
		t.Errorf("warnings differ between runs: %v vs %v", first.Warnings, second.Warnings)
	}
}

func TestRulePriorityOrder(t *testing.T) {
	e := NewEngine()
	rules := e.Rules()
	if len(rules) != 7 {
		t.Fatalf("expected 7 built-in rules, got %d", len(rules))
	}
	for i := 1; i < len(rules); i++ {
		if rules[i-1].Priority() < rules[i].Priority() {
			t.Errorf("rule %s (%d) ordered after %s (%d)",
				rules[i-1].Name(), rules[i-1].Priority(), rules[i].Name(), rules[i].Priority())
		}
	}
	if rules[0].Name() != "agent_capability" {
		t.Errorf("expected agent_capability first, got %s", rules[0].Name())
	}
	if rules[len(rules)-1].Name() != "state_validation" {
		t.Errorf("expected state_validation last, got %s", rules[len(rules)-1].Name())
	}
}

func TestHistoryBounded(t *testing.T) {
	e := NewEngine()
	pc := testContext()
	md := testMetadata()

	for i := 0; i < historyLimit+10; i++ {
		e.ValidatePattern(fmt.Sprintf("p%d", i), pc, md)
	}

	h := e.History()
	if len(h) != historyLimit {
		t.Fatalf("expected history capped at %d, got %d", historyLimit, len(h))
	}
	// Oldest entries are evicted first.
	if h[0].PatternID != "p10" {
		t.Errorf("expected oldest surviving entry p10, got %s", h[0].PatternID)
	}
}

func TestStatistics(t *testing.T) {
	e := NewEngine()
	pc := testContext()

	e.ValidatePattern("ok", pc, testMetadata())

	md := testMetadata()
	md.RequiredCapabilities = []string{"gpu"}
	e.ValidatePattern("bad", pc, md)

	st := e.Statistics()
	if st.TotalValidations != 2 {
		t.Errorf("expected 2 validations, got %d", st.TotalValidations)
	}
	if st.SuccessfulValidations != 1 || st.FailedValidations != 1 {
		t.Errorf("expected 1 success / 1 failure, got %d/%d", st.SuccessfulValidations, st.FailedValidations)
	}
	if st.TotalErrors == 0 {
		t.Error("expected at least one recorded error")
	}
}
