package patterns

import (
	"errors"
	"fmt"
	"sort"
)

// WorkflowStep is one unit of work in an orchestrated workflow.
type WorkflowStep struct {
	ID         string
	Capability string
	DependsOn  []string
}

// WorkflowPlan groups steps into tiers: tiers run in order, steps within a
// tier have no dependencies on each other and may run in parallel.
type WorkflowPlan struct {
	Tiers      []WorkflowTier
	StepInputs map[string][]string // step -> predecessor steps whose output feeds it
}

// WorkflowTier is a group of steps with no mutual dependencies.
type WorkflowTier struct {
	Steps []string
}

// BuildWorkflowPlan analyzes step dependencies and produces tiered execution
// order. It returns an error if the dependency graph contains cycles or
// references unknown steps.
func BuildWorkflowPlan(steps []WorkflowStep) (*WorkflowPlan, error) {
	stepSet := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return nil, errors.New("workflow step without an id")
		}
		if stepSet[s.ID] {
			return nil, fmt.Errorf("duplicate workflow step %q", s.ID)
		}
		stepSet[s.ID] = true
	}

	edges := make(map[string][]string) // dependency -> dependents
	inDegree := make(map[string]int, len(steps))
	for _, s := range steps {
		inDegree[s.ID] = 0
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if !stepSet[dep] {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			if dep == s.ID {
				return nil, fmt.Errorf("step %q depends on itself", s.ID)
			}
			edges[dep] = append(edges[dep], s.ID)
			inDegree[s.ID]++
		}
	}

	// Kahn's algorithm, tracking depth so independent steps share a tier.
	depthMap := make(map[string]int, len(steps))
	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
			depthMap[id] = 0
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, dependent := range edges[id] {
			inDegree[dependent]--
			if d := depthMap[id] + 1; d > depthMap[dependent] {
				depthMap[dependent] = d
			}
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed != len(steps) {
		return nil, errors.New("workflow dependency graph contains a cycle")
	}

	stepInputs := make(map[string][]string)
	maxDepth := 0
	for _, s := range steps {
		if len(s.DependsOn) > 0 {
			stepInputs[s.ID] = append([]string(nil), s.DependsOn...)
		}
		if d := depthMap[s.ID]; d > maxDepth {
			maxDepth = d
		}
	}

	tierMap := make(map[int][]string)
	for _, s := range steps {
		d := depthMap[s.ID]
		tierMap[d] = append(tierMap[d], s.ID)
	}

	tiers := make([]WorkflowTier, 0, maxDepth+1)
	for d := 0; d <= maxDepth; d++ {
		ids := tierMap[d]
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		tiers = append(tiers, WorkflowTier{Steps: ids})
	}

	return &WorkflowPlan{Tiers: tiers, StepInputs: stepInputs}, nil
}
