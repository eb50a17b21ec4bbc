package patterns

import (
	"context"
	"sort"
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

// ConflictResolution finds contending file locks in the resource pool and
// resolves them: the earliest acquisition wins, later claims are released.
type ConflictResolution struct {
	md pattern.Metadata
}

func NewConflictResolution() *ConflictResolution {
	return &ConflictResolution{
		md: pattern.Metadata{
			ID:          "conflict-resolution",
			Name:        "Conflict Resolution",
			Description: "Detects and resolves contending file locks by acquisition order",
			Version:     "1.0.0",
			Category:    pattern.CategoryConflictResolution,
			Complexity:  3,
			Tags:        []string{"builtin", "locks"},
		},
	}
}

func (p *ConflictResolution) Metadata() pattern.Metadata { return p.md }

func (p *ConflictResolution) Validate(_ context.Context, pc *pattern.Context) (*pattern.ValidationResult, error) {
	r := pattern.NewValidationResult()
	if pc.Resources == nil {
		r.AddError("No resource pool to inspect for conflicts")
	}
	return r, nil
}

func (p *ConflictResolution) Execute(ctx context.Context, pc *pattern.Context) (*pattern.Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, pattern.WrapError(pattern.KindExecution, p.md.ID, err)
	}
	pool := pc.Resources

	// Group live locks by path.
	now := time.Now()
	byPath := make(map[string][]pattern.FileLock)
	for _, l := range pool.FileLocks {
		if l.Expired(now) {
			continue
		}
		byPath[l.Path] = append(byPath[l.Path], l)
	}

	var conflicts []string
	var released []pattern.FileLock
	for path, locks := range byPath {
		if len(locks) < 2 {
			continue
		}
		exclusive := false
		for _, l := range locks {
			if l.Exclusive {
				exclusive = true
				break
			}
		}
		if !exclusive {
			continue
		}

		conflicts = append(conflicts, path)
		sort.Slice(locks, func(i, j int) bool {
			return locks[i].AcquiredAt.Before(locks[j].AcquiredAt)
		})
		// First claim stands, the rest are released.
		for _, loser := range locks[1:] {
			pool.ReleaseFileLock(loser.ID)
			released = append(released, loser)
		}
	}
	sort.Strings(conflicts)

	if pc.State != nil {
		if len(released) > 0 {
			pc.State.Data["released_locks"] = released
		}
		completed := stringSlice(pc.State.Data["completed_steps"])
		pc.State.Data["completed_steps"] = append(completed, "resolve_conflicts")
	}

	return newResult(p.md, start, map[string]any{
		"conflicts": conflicts,
		"resolved":  len(conflicts),
		"released":  len(released),
	}), nil
}

// Rollback re-acquires the locks released by the last execution.
func (p *ConflictResolution) Rollback(_ context.Context, pc *pattern.Context) error {
	if pc.State == nil || pc.Resources == nil {
		return nil
	}
	released, ok := pc.State.Data["released_locks"].([]pattern.FileLock)
	if !ok {
		return nil
	}
	for _, l := range released {
		pc.Resources.FileLocks[l.ID] = l
	}
	delete(pc.State.Data, "released_locks")
	return nil
}
