package pattern

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubPattern struct {
	md Metadata
}

func (p *stubPattern) Execute(_ context.Context, _ *Context) (*Result, error) {
	return &Result{PatternID: p.md.ID, Success: true}, nil
}

func (p *stubPattern) Validate(_ context.Context, _ *Context) (*ValidationResult, error) {
	return NewValidationResult(), nil
}

func (p *stubPattern) Rollback(_ context.Context, _ *Context) error { return nil }

func (p *stubPattern) Metadata() Metadata { return p.md }

func newStub(id string, cat Category, caps ...string) *stubPattern {
	return &stubPattern{md: Metadata{
		ID:                   id,
		Name:                 id,
		Category:             cat,
		RequiredCapabilities: caps,
	}}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(newStub("alpha", CategoryTaskDistribution)); err != nil {
		t.Fatalf("register error: %v", err)
	}

	p, ok := reg.Get("alpha")
	if !ok {
		t.Fatal("expected to find registered pattern")
	}
	if p.Metadata().ID != "alpha" {
		t.Errorf("expected id 'alpha', got '%s'", p.Metadata().ID)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Error("expected miss for unregistered id")
	}
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(newStub("alpha", CategoryCustom)); err != nil {
		t.Fatalf("register error: %v", err)
	}
	if err := reg.Register(newStub("alpha", CategoryCustom)); err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestRegistryFind(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newStub("b", CategoryTaskDistribution, "scheduling"))
	reg.Register(newStub("a", CategoryTaskDistribution))
	reg.Register(newStub("c", CategoryConflictResolution, "locking"))

	byCat := reg.FindByCategory(CategoryTaskDistribution)
	if len(byCat) != 2 {
		t.Fatalf("expected 2 task distribution patterns, got %d", len(byCat))
	}
	if byCat[0].ID != "a" || byCat[1].ID != "b" {
		t.Errorf("expected sorted ids [a b], got [%s %s]", byCat[0].ID, byCat[1].ID)
	}

	byCap := reg.FindByCapability("locking")
	if len(byCap) != 1 || byCap[0].ID != "c" {
		t.Errorf("expected capability lookup to return [c], got %v", byCap)
	}

	if len(reg.List()) != 3 {
		t.Errorf("expected 3 registered patterns, got %d", len(reg.List()))
	}
}

func TestStateTransitions(t *testing.T) {
	s := NewState("p1")
	if s.Phase != PhaseInitializing || s.Status != StatusPending {
		t.Fatalf("unexpected initial state: phase=%s status=%s", s.Phase, s.Status)
	}
	if s.Status.Terminal() {
		t.Error("pending must not be terminal")
	}

	s.Complete()
	if s.Phase != PhaseCompleted || s.Status != StatusCompleted {
		t.Errorf("unexpected completed state: phase=%s status=%s", s.Phase, s.Status)
	}
	if s.Progress != 1.0 {
		t.Errorf("expected progress 1.0, got %f", s.Progress)
	}
	if s.EndedAt == nil {
		t.Error("expected EndedAt to be set")
	}
	if !s.Status.Terminal() {
		t.Error("completed must be terminal")
	}
}

func TestStateFail(t *testing.T) {
	s := NewState("p1")
	s.Fail("boom")

	if s.Phase != PhaseFailed || s.Status != StatusFailed {
		t.Errorf("unexpected failed state: phase=%s status=%s", s.Phase, s.Status)
	}
	if msg, _ := s.Data["error_message"].(string); msg != "boom" {
		t.Errorf("expected error_message 'boom', got %q", msg)
	}
}

func TestStateClone(t *testing.T) {
	s := NewState("p1")
	s.Data["key"] = "value"

	c := s.Clone()
	c.Data["key"] = "other"
	c.Fail("cloned failure")

	if s.Data["key"] != "value" {
		t.Error("clone mutation leaked into original data")
	}
	if s.Status != StatusPending {
		t.Errorf("clone transition leaked into original: status=%s", s.Status)
	}
}

func TestErrorKindOf(t *testing.T) {
	err := Errorf(KindTimeout, "p1", "execution exceeded %s", time.Second)
	if KindOf(err) != KindTimeout {
		t.Errorf("expected timeout kind, got %s", KindOf(err))
	}

	wrapped := WrapError(KindValidation, "p1", errors.New("bad input"))
	if KindOf(wrapped) != KindValidation {
		t.Errorf("expected validation kind, got %s", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != KindExecution {
		t.Error("foreign errors must report execution kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := WrapError(KindExecution, "p1", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindValidation, false},
		{KindConfiguration, false},
		{KindPatternNotFound, false},
		{KindInvalidState, false},
		{KindTimeout, true},
		{KindExecution, true},
		{KindAgentNotAvailable, true},
		{KindResourceNotAvailable, true},
	}

	for _, tc := range cases {
		err := Errorf(tc.kind, "p1", "failure")
		if Retryable(err) != tc.want {
			t.Errorf("Retryable(%s) = %v, want %v", tc.kind, !tc.want, tc.want)
		}
	}
}

func TestValidationResultMerge(t *testing.T) {
	a := NewValidationResult()
	a.AddWarning("low memory")

	b := NewValidationResult()
	b.AddError("no agents")
	b.SetDetail("idle_agents", 0)

	a.Merge(b)
	if a.Valid {
		t.Error("merging an invalid result must invalidate")
	}
	if len(a.Errors) != 1 || len(a.Warnings) != 1 {
		t.Errorf("expected 1 error and 1 warning, got %d/%d", len(a.Errors), len(a.Warnings))
	}
	if a.Details["idle_agents"] != 0 {
		t.Error("expected merged detail to survive")
	}

	a.Merge(nil)
	if len(a.Errors) != 1 {
		t.Error("merging nil must be a no-op")
	}
}

func TestContextHelpers(t *testing.T) {
	pc := &Context{
		Agents: []AgentInfo{
			{ID: "a1", Status: AgentIdle, Capabilities: []string{"compute"}},
			{ID: "a2", Status: AgentBusy, Capabilities: []string{"compute", "storage"}},
			{ID: "a3", Status: AgentIdle},
		},
	}

	if got := len(pc.IdleAgents()); got != 2 {
		t.Errorf("expected 2 idle agents, got %d", got)
	}
	if got := len(pc.AgentsWithCapability("compute")); got != 2 {
		t.Errorf("expected 2 compute agents, got %d", got)
	}
	if got := len(pc.AgentsWithCapability("gpu")); got != 0 {
		t.Errorf("expected 0 gpu agents, got %d", got)
	}
}
