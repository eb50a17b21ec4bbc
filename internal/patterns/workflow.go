package patterns

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

// WorkflowOrchestration runs a dependency-ordered workflow. Steps are read
// from Config.Custom["workflow"], planned into tiers, and executed tier by
// tier with the steps of a tier dispatched in parallel to idle agents.
type WorkflowOrchestration struct {
	md pattern.Metadata
}

func NewWorkflowOrchestration() *WorkflowOrchestration {
	return &WorkflowOrchestration{
		md: pattern.Metadata{
			ID:          "workflow-orchestration",
			Name:        "Workflow Orchestration",
			Description: "Tiered execution of dependent workflow steps across agents",
			Version:     "1.0.0",
			Category:    pattern.CategoryWorkflowOrchestration,
			Complexity:  6,
			Tags:        []string{"builtin", "workflow"},
		},
	}
}

func (p *WorkflowOrchestration) Metadata() pattern.Metadata { return p.md }

func (p *WorkflowOrchestration) Validate(_ context.Context, pc *pattern.Context) (*pattern.ValidationResult, error) {
	r := pattern.NewValidationResult()
	steps := parseWorkflowSteps(pc.Config.Custom["workflow"])
	if len(steps) == 0 {
		r.AddError("No workflow steps configured")
		return r, nil
	}
	if _, err := BuildWorkflowPlan(steps); err != nil {
		r.AddError(err.Error())
	}
	for _, s := range steps {
		if s.Capability != "" && len(pc.AgentsWithCapability(s.Capability)) == 0 {
			r.AddError(fmt.Sprintf("No agent found with required capability: %s", s.Capability))
		}
	}
	return r, nil
}

func (p *WorkflowOrchestration) Execute(ctx context.Context, pc *pattern.Context) (*pattern.Result, error) {
	start := time.Now()

	steps := parseWorkflowSteps(pc.Config.Custom["workflow"])
	if len(steps) == 0 {
		return nil, pattern.Errorf(pattern.KindConfiguration, p.md.ID, "no workflow steps configured")
	}
	plan, err := BuildWorkflowPlan(steps)
	if err != nil {
		return nil, pattern.WrapError(pattern.KindValidation, p.md.ID, err)
	}

	byID := make(map[string]WorkflowStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	stepAgents := make(map[string]string, len(steps))
	var completed []string
	var mu sync.Mutex

	for _, tier := range plan.Tiers {
		if err := ctx.Err(); err != nil {
			return nil, pattern.WrapError(pattern.KindExecution, p.md.ID, err)
		}

		var wg sync.WaitGroup
		errCh := make(chan error, len(tier.Steps))

		for _, id := range tier.Steps {
			step := byID[id]
			agent, ok := pickAgent(pc, step.Capability)
			if !ok {
				errCh <- pattern.Errorf(pattern.KindAgentNotAvailable, p.md.ID,
					"no agent available for step %s (capability %q)", step.ID, step.Capability)
				continue
			}

			wg.Add(1)
			go func(step WorkflowStep, agentID string) {
				defer wg.Done()
				if err := runWorkflowStep(ctx, step); err != nil {
					errCh <- fmt.Errorf("step %s: %w", step.ID, err)
					return
				}
				mu.Lock()
				stepAgents[step.ID] = agentID
				completed = append(completed, step.ID)
				mu.Unlock()
			}(step, agent)
		}

		wg.Wait()
		close(errCh)
		for err := range errCh {
			// A failed step invalidates the tiers that depend on it.
			return nil, pattern.WrapError(pattern.KindExecution, p.md.ID, err)
		}
	}

	if pc.State != nil {
		done := stringSlice(pc.State.Data["completed_steps"])
		pc.State.Data["completed_steps"] = append(done, completed...)
		pc.State.Data["step_agents"] = stepAgents
	}

	return newResult(p.md, start, map[string]any{
		"steps_completed": completed,
		"step_agents":     stepAgents,
		"tiers":           len(plan.Tiers),
	}), nil
}

func (p *WorkflowOrchestration) Rollback(_ context.Context, pc *pattern.Context) error {
	if pc.State == nil {
		return nil
	}
	delete(pc.State.Data, "step_agents")
	return nil
}

// runWorkflowStep is the dispatch point for a single step. The engine tracks
// orchestration only; the work itself happens on the agent's side.
func runWorkflowStep(ctx context.Context, _ WorkflowStep) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// pickAgent finds an idle agent matching the capability, if any.
func pickAgent(pc *pattern.Context, capability string) (string, bool) {
	for _, a := range pc.Agents {
		if a.Status != pattern.AgentIdle {
			continue
		}
		if capability != "" && !a.HasCapability(capability) {
			continue
		}
		return a.ID, true
	}
	return "", false
}

// parseWorkflowSteps reads workflow steps from custom config. Each entry is
// an object with an "id", an optional "capability", and an optional
// "depends_on" list.
func parseWorkflowSteps(v any) []WorkflowStep {
	raw := mapSlice(v)
	steps := make([]WorkflowStep, 0, len(raw))
	for _, m := range raw {
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		capability, _ := m["capability"].(string)
		steps = append(steps, WorkflowStep{
			ID:         id,
			Capability: capability,
			DependsOn:  stringSlice(m["depends_on"]),
		})
	}
	return steps
}
