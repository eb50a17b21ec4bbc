package patterns

import (
	"context"
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

// ResourceManagement reclaims expired file locks and releases reservations
// for owners the caller has marked done, restoring pool headroom.
type ResourceManagement struct {
	md pattern.Metadata
}

func NewResourceManagement() *ResourceManagement {
	return &ResourceManagement{
		md: pattern.Metadata{
			ID:          "resource-management",
			Name:        "Resource Management",
			Description: "Reclaims expired locks and finished reservations from the pool",
			Version:     "1.0.0",
			Category:    pattern.CategoryResourceManagement,
			Complexity:  2,
			Tags:        []string{"builtin", "resources"},
		},
	}
}

func (p *ResourceManagement) Metadata() pattern.Metadata { return p.md }

func (p *ResourceManagement) Validate(_ context.Context, pc *pattern.Context) (*pattern.ValidationResult, error) {
	r := pattern.NewValidationResult()
	if pc.Resources == nil {
		r.AddError("No resource pool to manage")
	}
	return r, nil
}

func (p *ResourceManagement) Execute(ctx context.Context, pc *pattern.Context) (*pattern.Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, pattern.WrapError(pattern.KindExecution, p.md.ID, err)
	}
	pool := pc.Resources

	now := time.Now()
	expired := 0
	for id, l := range pool.FileLocks {
		if l.Expired(now) {
			pool.ReleaseFileLock(id)
			expired++
		}
	}

	releasedOwners := 0
	for _, owner := range stringSlice(pc.Config.Custom["release_owners"]) {
		_, hadMemory := pool.Memory.Reservations[owner]
		_, hadCores := pool.CPU.Reservations[owner]
		pool.ReleaseMemory(owner)
		pool.ReleaseCores(owner)
		if hadMemory || hadCores {
			releasedOwners++
		}
	}

	if pc.State != nil {
		completed := stringSlice(pc.State.Data["completed_steps"])
		pc.State.Data["completed_steps"] = append(completed, "reclaim_resources")
	}

	return newResult(p.md, start, map[string]any{
		"expired_locks_released": expired,
		"owners_released":        releasedOwners,
		"memory_utilization":     pool.MemoryUtilization(),
		"cpu_utilization":        pool.CPUUtilization(),
	}), nil
}

// Rollback is a no-op: reclaimed resources cannot be meaningfully
// re-reserved on behalf of their former owners.
func (p *ResourceManagement) Rollback(_ context.Context, _ *pattern.Context) error {
	return nil
}
