package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

// TaskDistribution assigns configured tasks to idle agents, matching
// required capabilities and preferring the least loaded agent.
type TaskDistribution struct {
	md pattern.Metadata
}

func NewTaskDistribution() *TaskDistribution {
	return &TaskDistribution{
		md: pattern.Metadata{
			ID:          "task-distribution",
			Name:        "Task Distribution",
			Description: "Capability-matched, workload-balanced assignment of tasks to idle agents",
			Version:     "1.0.0",
			Category:    pattern.CategoryTaskDistribution,
			Complexity:  4,
			Tags:        []string{"builtin", "distribution"},
		},
	}
}

func (p *TaskDistribution) Metadata() pattern.Metadata { return p.md }

func (p *TaskDistribution) Validate(_ context.Context, pc *pattern.Context) (*pattern.ValidationResult, error) {
	r := pattern.NewValidationResult()
	if len(pc.IdleAgents()) == 0 {
		r.AddError("No idle agents to distribute tasks to")
	}
	if len(mapSlice(pc.Config.Custom["tasks"])) == 0 {
		r.AddWarning("No tasks configured; distribution will be a no-op")
	}
	return r, nil
}

func (p *TaskDistribution) Execute(ctx context.Context, pc *pattern.Context) (*pattern.Result, error) {
	start := time.Now()
	tasks := mapSlice(pc.Config.Custom["tasks"])

	// Work on a private copy of the roster; the caller owns the original.
	agents := make([]pattern.AgentInfo, len(pc.Agents))
	for i, a := range pc.Agents {
		agents[i] = a.Clone()
	}

	assignments := make(map[string]string, len(tasks))
	var unassigned []string

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, pattern.WrapError(pattern.KindExecution, p.md.ID, err)
		}

		taskID, _ := task["id"].(string)
		if taskID == "" {
			continue
		}
		capability, _ := task["required_capability"].(string)
		weight := 0.1
		if w, ok := task["weight"].(float64); ok && w > 0 {
			weight = w
		}

		best := -1
		for i, a := range agents {
			if a.Status != pattern.AgentIdle {
				continue
			}
			if capability != "" && !a.HasCapability(capability) {
				continue
			}
			if a.Workload+weight > 1.0 {
				continue
			}
			if best == -1 || a.Workload < agents[best].Workload {
				best = i
			}
		}
		if best == -1 {
			unassigned = append(unassigned, taskID)
			continue
		}

		agents[best].Workload += weight
		agents[best].AssignedTasks = append(agents[best].AssignedTasks, taskID)
		assignments[taskID] = agents[best].ID
	}

	if len(assignments) == 0 && len(unassigned) > 0 {
		return nil, pattern.Errorf(pattern.KindAgentNotAvailable, p.md.ID,
			"no agent could take any of %d tasks", len(unassigned))
	}

	if pc.State != nil {
		pc.State.Data["assignments"] = assignments
		completed := stringSlice(pc.State.Data["completed_steps"])
		pc.State.Data["completed_steps"] = append(completed, "distribute")
	}

	return newResult(p.md, start, map[string]any{
		"assignments": assignments,
		"assigned":    len(assignments),
		"unassigned":  unassigned,
	}), nil
}

func (p *TaskDistribution) Rollback(_ context.Context, pc *pattern.Context) error {
	if pc.State == nil {
		return nil
	}
	if _, ok := pc.State.Data["assignments"]; !ok {
		return fmt.Errorf("no assignments to roll back")
	}
	delete(pc.State.Data, "assignments")
	return nil
}
