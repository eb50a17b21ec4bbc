package recovery

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/akontos/syntonia/internal/config"
	"github.com/akontos/syntonia/internal/pattern"
)

func testContext() *pattern.Context {
	return &pattern.Context{
		Agents: []pattern.AgentInfo{
			{ID: "a1", Status: pattern.AgentIdle, Workload: 0.2},
		},
		Resources: pattern.NewResourcePool(1<<30, 4, 1000),
		State:     pattern.NewState("p1"),
	}
}

func newManager() *Manager {
	return New(config.RecoveryConfig{MaxCheckpointsPerPattern: 3, HistoryLimit: 5}, nil)
}

func TestCreateAndLookupCheckpoint(t *testing.T) {
	m := newManager()
	pc := testContext()

	id, err := m.CreateCheckpoint("p1", pc, map[string]string{"stage": "pre_execution"})
	if err != nil {
		t.Fatalf("checkpoint error: %v", err)
	}

	cp, ok := m.Checkpoint(id)
	if !ok {
		t.Fatal("expected to find checkpoint by id")
	}
	if cp.PatternID != "p1" || cp.Annotations["stage"] != "pre_execution" {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}

	latest, ok := m.LatestCheckpoint("p1")
	if !ok || latest.ID != id {
		t.Error("expected latest checkpoint to match")
	}

	if _, ok := m.LatestCheckpoint("other"); ok {
		t.Error("expected no checkpoint for unknown pattern")
	}
}

func TestCheckpointIsSnapshot(t *testing.T) {
	m := newManager()
	pc := testContext()
	pc.State.Data["key"] = "before"

	id, _ := m.CreateCheckpoint("p1", pc, nil)

	// Mutations after the checkpoint must not leak into it.
	pc.State.Data["key"] = "after"
	pc.Resources.ReserveMemory("owner", 512<<20)
	pc.Agents[0].Workload = 0.9

	cp, _ := m.Checkpoint(id)
	if cp.State.Data["key"] != "before" {
		t.Error("state mutation leaked into checkpoint")
	}
	if cp.Resources.Memory.AllocatedBytes != 0 {
		t.Error("resource mutation leaked into checkpoint")
	}
	if cp.Agents[0].Workload != 0.2 {
		t.Error("agent mutation leaked into checkpoint")
	}
}

func TestCheckpointEviction(t *testing.T) {
	m := newManager() // retention 3
	pc := testContext()

	var ids []string
	for i := 0; i < 5; i++ {
		id, _ := m.CreateCheckpoint("p1", pc, map[string]string{"n": fmt.Sprint(i)})
		ids = append(ids, id)
	}

	if _, ok := m.Checkpoint(ids[0]); ok {
		t.Error("expected oldest checkpoint to be evicted")
	}
	if _, ok := m.Checkpoint(ids[1]); ok {
		t.Error("expected second checkpoint to be evicted")
	}
	latest, ok := m.LatestCheckpoint("p1")
	if !ok || latest.ID != ids[4] {
		t.Error("expected newest checkpoint to survive")
	}
}

func TestRollbackRestoresContext(t *testing.T) {
	m := newManager()
	pc := testContext()
	pc.State.Data["progress_marker"] = "clean"

	id, _ := m.CreateCheckpoint("p1", pc, nil)

	pc.State.Fail("execution blew up")
	pc.Resources.ReserveMemory("leak", 256<<20)
	pc.Agents[0].Status = pattern.AgentFailed

	res := m.ExecuteStrategy("p1", Rollback(id), pc, errors.New("execution blew up"))
	if !res.Success {
		t.Fatalf("rollback failed: %s", res.Error)
	}
	if res.CheckpointID != id {
		t.Errorf("expected checkpoint %s, got %s", id, res.CheckpointID)
	}

	if pc.State.Status != pattern.StatusRunning || pc.State.Phase != pattern.PhaseExecuting {
		t.Errorf("expected runnable state after rollback, got %s/%s", pc.State.Phase, pc.State.Status)
	}
	if _, ok := pc.State.Data["error_message"]; ok {
		t.Error("expected error_message cleared after rollback")
	}
	if pc.State.Data["progress_marker"] != "clean" {
		t.Error("expected checkpointed data restored")
	}
	if pc.Resources.Memory.AllocatedBytes != 0 {
		t.Error("expected resources restored")
	}
	if pc.Agents[0].Status != pattern.AgentIdle {
		t.Error("expected agent states restored")
	}
}

func TestPartialRollbackPreservesCompletedSteps(t *testing.T) {
	m := newManager()
	pc := testContext()

	id, _ := m.CreateCheckpoint("p1", pc, nil)

	pc.State.Data["completed_steps"] = []string{"distribute", "resolve_conflicts"}
	pc.State.Fail("step three failed")

	res := m.ExecuteStrategy("p1", PartialRollback(id), pc, errors.New("step three failed"))
	if !res.Success {
		t.Fatalf("partial rollback failed: %s", res.Error)
	}

	steps, _ := pc.State.Data["completed_steps"].([]string)
	if len(steps) != 2 {
		t.Errorf("expected completed steps preserved, got %v", pc.State.Data["completed_steps"])
	}
	if pc.State.Status != pattern.StatusRunning {
		t.Errorf("expected running state, got %s", pc.State.Status)
	}
}

func TestRollbackWithoutCheckpoint(t *testing.T) {
	m := newManager()
	pc := testContext()

	res := m.ExecuteStrategy("p1", Rollback(""), pc, errors.New("failure"))
	if res.Success {
		t.Fatal("rollback without a checkpoint must report failure")
	}
	if res.Error == "" {
		t.Error("expected an error message in the result")
	}
}

func TestLatestCheckpointUsedWhenUnspecified(t *testing.T) {
	m := newManager()
	pc := testContext()

	m.CreateCheckpoint("p1", pc, nil)
	pc.State.Data["marker"] = "second"
	second, _ := m.CreateCheckpoint("p1", pc, nil)

	pc.State.Fail("boom")
	res := m.ExecuteStrategy("p1", Rollback(""), pc, errors.New("boom"))
	if !res.Success {
		t.Fatalf("rollback failed: %s", res.Error)
	}
	if res.CheckpointID != second {
		t.Errorf("expected latest checkpoint %s, got %s", second, res.CheckpointID)
	}
	if pc.State.Data["marker"] != "second" {
		t.Error("expected newest snapshot restored")
	}
}

func TestRetryPreparation(t *testing.T) {
	m := newManager()
	pc := testContext()
	pc.State.Fail("transient failure")

	res := m.ExecuteStrategy("p1", Retry(3, time.Millisecond, false), pc, errors.New("transient failure"))
	if !res.Success {
		t.Fatalf("retry prep failed: %s", res.Error)
	}
	if pc.State.Data["recovery_attempts"] != 1 {
		t.Errorf("expected 1 recovery attempt recorded, got %v", pc.State.Data["recovery_attempts"])
	}
	if pc.State.Status != pattern.StatusRunning || pc.State.EndedAt != nil {
		t.Error("expected runnable state after retry prep")
	}
}

func TestRetryExhaustion(t *testing.T) {
	m := newManager()
	pc := testContext()

	strat := Retry(2, 0, false)
	for i := 0; i < 2; i++ {
		if res := m.ExecuteStrategy("p1", strat, pc, errors.New("failure")); !res.Success {
			t.Fatalf("attempt %d failed: %s", i+1, res.Error)
		}
	}

	res := m.ExecuteStrategy("p1", strat, pc, errors.New("failure"))
	if res.Success {
		t.Fatal("expected exhausted retries to report failure")
	}
}

func TestUnknownStrategy(t *testing.T) {
	m := newManager()
	res := m.ExecuteStrategy("p1", Strategy{Type: "restart_universe"}, testContext(), nil)
	if res.Success {
		t.Fatal("unknown strategy must report failure")
	}
}

func TestHistoryAndStatistics(t *testing.T) {
	m := newManager()
	pc := testContext()
	id, _ := m.CreateCheckpoint("p1", pc, nil)

	m.ExecuteStrategy("p1", Rollback(id), pc, errors.New("a"))
	m.ExecuteStrategy("p2", Rollback(""), testContext(), errors.New("b")) // no checkpoint, fails
	m.ExecuteStrategy("p1", Retry(0, 0, false), pc, errors.New("c"))

	if got := len(m.History("")); got != 3 {
		t.Errorf("expected 3 history records, got %d", got)
	}
	if got := len(m.History("p1")); got != 2 {
		t.Errorf("expected 2 records for p1, got %d", got)
	}

	st := m.Statistics()
	if st.TotalAttempts != 3 || st.SuccessfulAttempts != 2 || st.FailedAttempts != 1 {
		t.Errorf("unexpected statistics: %+v", st)
	}
	if st.ByStrategy[StrategyRollback] != 2 || st.ByStrategy[StrategyRetry] != 1 {
		t.Errorf("unexpected strategy breakdown: %v", st.ByStrategy)
	}
}

func TestHistoryBounded(t *testing.T) {
	m := newManager() // history limit 5
	pc := testContext()
	id, _ := m.CreateCheckpoint("p1", pc, nil)

	for i := 0; i < 8; i++ {
		m.ExecuteStrategy("p1", Rollback(id), pc, errors.New("failure"))
	}
	if got := len(m.History("")); got != 5 {
		t.Errorf("expected history capped at 5, got %d", got)
	}
}
