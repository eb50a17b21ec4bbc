package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

func testContext(custom map[string]any) *pattern.Context {
	return &pattern.Context{
		Agents: []pattern.AgentInfo{
			{ID: "a1", Status: pattern.AgentIdle, Capabilities: []string{"compute"}, Workload: 0.1},
			{ID: "a2", Status: pattern.AgentIdle, Capabilities: []string{"compute", "storage"}, Workload: 0.5},
			{ID: "a3", Status: pattern.AgentBusy, Capabilities: []string{"compute"}},
		},
		Resources: pattern.NewResourcePool(2<<30, 4, 1000),
		State:     pattern.NewState("test"),
		Config: pattern.Config{
			Timeout:    time.Minute,
			MaxRetries: 1,
			Custom:     custom,
		},
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := pattern.NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register error: %v", err)
	}
	for _, id := range []string{"task-distribution", "conflict-resolution", "resource-management", "workflow-orchestration"} {
		if _, ok := reg.Get(id); !ok {
			t.Errorf("expected builtin %s registered", id)
		}
	}
	if err := RegisterBuiltins(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestTaskDistributionAssignsLeastLoaded(t *testing.T) {
	p := NewTaskDistribution()
	pc := testContext(map[string]any{
		"tasks": []map[string]any{
			{"id": "t1", "required_capability": "compute", "weight": 0.2},
			{"id": "t2", "required_capability": "storage", "weight": 0.2},
		},
	})

	res, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}

	assignments, ok := res.Data["assignments"].(map[string]string)
	if !ok {
		t.Fatalf("expected assignments map, got %T", res.Data["assignments"])
	}
	// a1 is the least loaded compute agent; a2 is the only storage agent.
	if assignments["t1"] != "a1" {
		t.Errorf("expected t1 on a1, got %s", assignments["t1"])
	}
	if assignments["t2"] != "a2" {
		t.Errorf("expected t2 on a2, got %s", assignments["t2"])
	}

	steps := pc.State.Data["completed_steps"].([]string)
	if len(steps) != 1 || steps[0] != "distribute" {
		t.Errorf("expected distribute step recorded, got %v", steps)
	}
}

func TestTaskDistributionNoCapableAgent(t *testing.T) {
	p := NewTaskDistribution()
	pc := testContext(map[string]any{
		"tasks": []map[string]any{
			{"id": "t1", "required_capability": "gpu"},
		},
	})

	_, err := p.Execute(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error when no task can be assigned")
	}
	if pattern.KindOf(err) != pattern.KindAgentNotAvailable {
		t.Errorf("expected agent_not_available kind, got %s", pattern.KindOf(err))
	}
}

func TestTaskDistributionSkipsOverloadedAgents(t *testing.T) {
	p := NewTaskDistribution()
	pc := testContext(map[string]any{
		"tasks": []map[string]any{
			{"id": "t1", "required_capability": "compute", "weight": 0.95},
		},
	})
	pc.Agents[0].Workload = 0.2 // 0.2 + 0.95 > 1.0

	res, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	unassigned, _ := res.Data["unassigned"].([]string)
	assignments, _ := res.Data["assignments"].(map[string]string)
	if len(assignments)+len(unassigned) != 1 {
		t.Fatalf("expected one task accounted for, got %v / %v", assignments, unassigned)
	}
	if len(assignments) != 0 {
		t.Errorf("expected no assignment past the workload cap, got %v", assignments)
	}
}

func TestTaskDistributionValidate(t *testing.T) {
	p := NewTaskDistribution()
	pc := testContext(nil)
	for i := range pc.Agents {
		pc.Agents[i].Status = pattern.AgentBusy
	}

	r, err := p.Validate(context.Background(), pc)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if r.Valid {
		t.Error("expected invalid with no idle agents")
	}
}

func TestTaskDistributionRollback(t *testing.T) {
	p := NewTaskDistribution()
	pc := testContext(map[string]any{
		"tasks": []map[string]any{{"id": "t1", "weight": 0.1}},
	})

	if _, err := p.Execute(context.Background(), pc); err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if err := p.Rollback(context.Background(), pc); err != nil {
		t.Fatalf("rollback error: %v", err)
	}
	if _, ok := pc.State.Data["assignments"]; ok {
		t.Error("expected assignments removed by rollback")
	}
	if err := p.Rollback(context.Background(), pc); err == nil {
		t.Error("expected error rolling back twice")
	}
}

func TestConflictResolutionEarliestWins(t *testing.T) {
	p := NewConflictResolution()
	pc := testContext(nil)

	base := time.Now().Add(-time.Minute)
	pc.Resources.FileLocks["l1"] = pattern.FileLock{ID: "l1", Path: "/shared", Owner: "a1", Exclusive: true, AcquiredAt: base}
	pc.Resources.FileLocks["l2"] = pattern.FileLock{ID: "l2", Path: "/shared", Owner: "a2", AcquiredAt: base.Add(10 * time.Second)}
	pc.Resources.FileLocks["l3"] = pattern.FileLock{ID: "l3", Path: "/other", Owner: "a3", AcquiredAt: base}

	res, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if res.Data["resolved"] != 1 {
		t.Errorf("expected 1 conflict resolved, got %v", res.Data["resolved"])
	}

	if _, ok := pc.Resources.FileLocks["l1"]; !ok {
		t.Error("expected earliest lock to survive")
	}
	if _, ok := pc.Resources.FileLocks["l2"]; ok {
		t.Error("expected later lock released")
	}
	if _, ok := pc.Resources.FileLocks["l3"]; !ok {
		t.Error("expected unrelated lock untouched")
	}
}

func TestConflictResolutionSharedLocksCoexist(t *testing.T) {
	p := NewConflictResolution()
	pc := testContext(nil)

	pc.Resources.FileLocks["l1"] = pattern.FileLock{ID: "l1", Path: "/shared", Owner: "a1", AcquiredAt: time.Now()}
	pc.Resources.FileLocks["l2"] = pattern.FileLock{ID: "l2", Path: "/shared", Owner: "a2", AcquiredAt: time.Now()}

	res, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if res.Data["resolved"] != 0 {
		t.Errorf("shared locks are not a conflict, got %v", res.Data["resolved"])
	}
	if len(pc.Resources.FileLocks) != 2 {
		t.Error("expected both shared locks to survive")
	}
}

func TestConflictResolutionRollback(t *testing.T) {
	p := NewConflictResolution()
	pc := testContext(nil)

	base := time.Now().Add(-time.Minute)
	pc.Resources.FileLocks["l1"] = pattern.FileLock{ID: "l1", Path: "/shared", Owner: "a1", Exclusive: true, AcquiredAt: base}
	pc.Resources.FileLocks["l2"] = pattern.FileLock{ID: "l2", Path: "/shared", Owner: "a2", AcquiredAt: base.Add(time.Second)}

	if _, err := p.Execute(context.Background(), pc); err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if err := p.Rollback(context.Background(), pc); err != nil {
		t.Fatalf("rollback error: %v", err)
	}
	if _, ok := pc.Resources.FileLocks["l2"]; !ok {
		t.Error("expected released lock restored by rollback")
	}
}

func TestResourceManagementReclaims(t *testing.T) {
	p := NewResourceManagement()
	pc := testContext(map[string]any{
		"release_owners": []string{"finished"},
	})

	past := time.Now().Add(-time.Minute)
	pc.Resources.FileLocks["stale"] = pattern.FileLock{ID: "stale", Path: "/tmp/a", Owner: "a1", ExpiresAt: &past}
	pc.Resources.FileLocks["live"] = pattern.FileLock{ID: "live", Path: "/tmp/b", Owner: "a2"}
	pc.Resources.ReserveMemory("finished", 256<<20)
	pc.Resources.ReserveCores("finished", 1)
	pc.Resources.ReserveMemory("active", 128<<20)

	res, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if res.Data["expired_locks_released"] != 1 {
		t.Errorf("expected 1 expired lock released, got %v", res.Data["expired_locks_released"])
	}
	if res.Data["owners_released"] != 1 {
		t.Errorf("expected 1 owner released, got %v", res.Data["owners_released"])
	}

	if _, ok := pc.Resources.FileLocks["live"]; !ok {
		t.Error("expected live lock untouched")
	}
	if pc.Resources.Memory.AllocatedBytes != 128<<20 {
		t.Errorf("expected only the active reservation left, got %d", pc.Resources.Memory.AllocatedBytes)
	}
	if pc.Resources.CPU.AllocatedCores != 0 {
		t.Errorf("expected cores released, got %f", pc.Resources.CPU.AllocatedCores)
	}
}

func TestWorkflowOrchestrationRunsTiers(t *testing.T) {
	p := NewWorkflowOrchestration()
	pc := testContext(map[string]any{
		"workflow": []map[string]any{
			{"id": "fetch", "capability": "compute"},
			{"id": "store", "capability": "storage", "depends_on": []string{"fetch"}},
		},
	})

	res, err := p.Execute(context.Background(), pc)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if res.Data["tiers"] != 2 {
		t.Errorf("expected 2 tiers, got %v", res.Data["tiers"])
	}

	completed, _ := res.Data["steps_completed"].([]string)
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed steps, got %v", completed)
	}

	stepAgents, _ := res.Data["step_agents"].(map[string]string)
	if stepAgents["store"] != "a2" {
		t.Errorf("expected store on the storage agent, got %s", stepAgents["store"])
	}

	steps := stringSlice(pc.State.Data["completed_steps"])
	if len(steps) != 2 {
		t.Errorf("expected steps recorded in state, got %v", steps)
	}
}

func TestWorkflowOrchestrationCycleFails(t *testing.T) {
	p := NewWorkflowOrchestration()
	pc := testContext(map[string]any{
		"workflow": []map[string]any{
			{"id": "a", "depends_on": []string{"b"}},
			{"id": "b", "depends_on": []string{"a"}},
		},
	})

	_, err := p.Execute(context.Background(), pc)
	if err == nil {
		t.Fatal("expected cycle to fail execution")
	}
	if pattern.KindOf(err) != pattern.KindValidation {
		t.Errorf("expected validation kind, got %s", pattern.KindOf(err))
	}

	r, verr := p.Validate(context.Background(), pc)
	if verr != nil {
		t.Fatalf("validate error: %v", verr)
	}
	if r.Valid {
		t.Error("expected validation to reject the cycle")
	}
}

func TestWorkflowOrchestrationMissingCapability(t *testing.T) {
	p := NewWorkflowOrchestration()
	pc := testContext(map[string]any{
		"workflow": []map[string]any{
			{"id": "gpu-step", "capability": "gpu"},
		},
	})

	r, err := p.Validate(context.Background(), pc)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if r.Valid {
		t.Error("expected missing capability to invalidate")
	}

	if _, err := p.Execute(context.Background(), pc); err == nil {
		t.Error("expected execution to fail without a capable agent")
	}
}

func TestWorkflowOrchestrationEmptyWorkflow(t *testing.T) {
	p := NewWorkflowOrchestration()
	pc := testContext(nil)

	r, err := p.Validate(context.Background(), pc)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if r.Valid {
		t.Error("expected empty workflow to invalidate")
	}

	if _, err := p.Execute(context.Background(), pc); err == nil {
		t.Error("expected empty workflow to fail execution")
	}
}
