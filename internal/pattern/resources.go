package pattern

import (
	"fmt"
	"time"
)

// FileLock is an advisory claim on a file path. Exclusivity is enforced by
// convention through the pool's bookkeeping, not by the type system.
type FileLock struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	Owner      string     `json:"owner"`
	Exclusive  bool       `json:"exclusive"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the lock's lease has lapsed.
func (l FileLock) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// MemoryPool accounts for memory across the context.
type MemoryPool struct {
	TotalBytes     uint64            `json:"total_bytes"`
	AvailableBytes uint64            `json:"available_bytes"`
	AllocatedBytes uint64            `json:"allocated_bytes"`
	Reservations   map[string]uint64 `json:"reservations,omitempty"` // owner -> bytes
}

// CPUAllocator accounts for CPU cores across the context.
type CPUAllocator struct {
	TotalCores     float64            `json:"total_cores"`
	AvailableCores float64            `json:"available_cores"`
	AllocatedCores float64            `json:"allocated_cores"`
	Reservations   map[string]float64 `json:"reservations,omitempty"` // owner -> cores
}

// NetworkResources accounts for bandwidth and connection counts.
type NetworkResources struct {
	AvailableBandwidthMbps float64 `json:"available_bandwidth_mbps"`
	AllocatedBandwidthMbps float64 `json:"allocated_bandwidth_mbps"`
	Connections            int     `json:"connections"`
}

// CustomResource is a named, caller-defined resource.
type CustomResource struct {
	Name       string         `json:"name"`
	Total      float64        `json:"total"`
	Available  float64        `json:"available"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ResourcePool aggregates every shared resource visible to an execution.
// The pool in a Context is treated as a snapshot for the duration of one
// call; the engine accounts for resources but does not enforce mutual
// exclusion across concurrently executing patterns.
type ResourcePool struct {
	FileLocks map[string]FileLock       `json:"file_locks,omitempty"`
	Memory    MemoryPool                `json:"memory_pool"`
	CPU       CPUAllocator              `json:"cpu_allocator"`
	Network   NetworkResources          `json:"network_resources"`
	Custom    map[string]CustomResource `json:"custom_resources,omitempty"`
}

// NewResourcePool returns an empty pool with the given capacity.
func NewResourcePool(memoryBytes uint64, cores float64, bandwidthMbps float64) *ResourcePool {
	return &ResourcePool{
		FileLocks: make(map[string]FileLock),
		Memory: MemoryPool{
			TotalBytes:     memoryBytes,
			AvailableBytes: memoryBytes,
			Reservations:   make(map[string]uint64),
		},
		CPU: CPUAllocator{
			TotalCores:     cores,
			AvailableCores: cores,
			Reservations:   make(map[string]float64),
		},
		Network: NetworkResources{
			AvailableBandwidthMbps: bandwidthMbps,
		},
		Custom: make(map[string]CustomResource),
	}
}

// ReserveMemory moves bytes from available to allocated on behalf of owner.
func (p *ResourcePool) ReserveMemory(owner string, bytes uint64) error {
	if bytes > p.Memory.AvailableBytes {
		return fmt.Errorf("reserve memory: %d bytes requested, %d available", bytes, p.Memory.AvailableBytes)
	}
	p.Memory.AvailableBytes -= bytes
	p.Memory.AllocatedBytes += bytes
	if p.Memory.Reservations == nil {
		p.Memory.Reservations = make(map[string]uint64)
	}
	p.Memory.Reservations[owner] += bytes
	return nil
}

// ReleaseMemory returns the owner's reservation to the available pool.
func (p *ResourcePool) ReleaseMemory(owner string) {
	bytes := p.Memory.Reservations[owner]
	if bytes == 0 {
		return
	}
	delete(p.Memory.Reservations, owner)
	if bytes > p.Memory.AllocatedBytes {
		bytes = p.Memory.AllocatedBytes
	}
	p.Memory.AllocatedBytes -= bytes
	p.Memory.AvailableBytes += bytes
}

// ReserveCores moves cores from available to allocated on behalf of owner.
func (p *ResourcePool) ReserveCores(owner string, cores float64) error {
	if cores > p.CPU.AvailableCores {
		return fmt.Errorf("reserve cores: %.1f requested, %.1f available", cores, p.CPU.AvailableCores)
	}
	p.CPU.AvailableCores -= cores
	p.CPU.AllocatedCores += cores
	if p.CPU.Reservations == nil {
		p.CPU.Reservations = make(map[string]float64)
	}
	p.CPU.Reservations[owner] += cores
	return nil
}

// ReleaseCores returns the owner's core reservation to the available pool.
func (p *ResourcePool) ReleaseCores(owner string) {
	cores := p.CPU.Reservations[owner]
	if cores == 0 {
		return
	}
	delete(p.CPU.Reservations, owner)
	if cores > p.CPU.AllocatedCores {
		cores = p.CPU.AllocatedCores
	}
	p.CPU.AllocatedCores -= cores
	p.CPU.AvailableCores += cores
}

// AcquireFileLock registers an advisory lock. An exclusive request fails if
// any live lock already covers the same path.
func (p *ResourcePool) AcquireFileLock(lock FileLock) error {
	if p.FileLocks == nil {
		p.FileLocks = make(map[string]FileLock)
	}
	now := time.Now()
	for _, existing := range p.FileLocks {
		if existing.Path != lock.Path || existing.Expired(now) {
			continue
		}
		if lock.Exclusive || existing.Exclusive {
			return fmt.Errorf("file %s already locked by %s", lock.Path, existing.Owner)
		}
	}
	if lock.AcquiredAt.IsZero() {
		lock.AcquiredAt = now
	}
	p.FileLocks[lock.ID] = lock
	return nil
}

// ReleaseFileLock removes a lock by id.
func (p *ResourcePool) ReleaseFileLock(id string) {
	delete(p.FileLocks, id)
}

// MemoryUtilization returns allocated/total, or 0 for an empty pool.
func (p *ResourcePool) MemoryUtilization() float64 {
	if p.Memory.TotalBytes == 0 {
		return 0
	}
	return float64(p.Memory.AllocatedBytes) / float64(p.Memory.TotalBytes)
}

// CPUUtilization returns allocated/total, or 0 for an empty pool.
func (p *ResourcePool) CPUUtilization() float64 {
	if p.CPU.TotalCores == 0 {
		return 0
	}
	return p.CPU.AllocatedCores / p.CPU.TotalCores
}

// NetworkUtilization returns allocated/(allocated+available), or 0 when no
// bandwidth is accounted for.
func (p *ResourcePool) NetworkUtilization() float64 {
	total := p.Network.AvailableBandwidthMbps + p.Network.AllocatedBandwidthMbps
	if total == 0 {
		return 0
	}
	return p.Network.AllocatedBandwidthMbps / total
}

// Balanced reports whether allocated + available stays within total for
// memory and CPU. A caller-constructed pool may violate this; validation
// surfaces it as a warning rather than rejecting the pool outright.
func (p *ResourcePool) Balanced() bool {
	if p.Memory.AllocatedBytes+p.Memory.AvailableBytes > p.Memory.TotalBytes {
		return false
	}
	if p.CPU.AllocatedCores+p.CPU.AvailableCores > p.CPU.TotalCores+1e-9 {
		return false
	}
	return true
}

// Clone returns a deep copy of the pool, suitable for checkpoints.
func (p *ResourcePool) Clone() *ResourcePool {
	if p == nil {
		return nil
	}
	out := &ResourcePool{
		Memory:  p.Memory,
		CPU:     p.CPU,
		Network: p.Network,
	}
	out.FileLocks = make(map[string]FileLock, len(p.FileLocks))
	for k, v := range p.FileLocks {
		if v.ExpiresAt != nil {
			t := *v.ExpiresAt
			v.ExpiresAt = &t
		}
		out.FileLocks[k] = v
	}
	out.Memory.Reservations = make(map[string]uint64, len(p.Memory.Reservations))
	for k, v := range p.Memory.Reservations {
		out.Memory.Reservations[k] = v
	}
	out.CPU.Reservations = make(map[string]float64, len(p.CPU.Reservations))
	for k, v := range p.CPU.Reservations {
		out.CPU.Reservations[k] = v
	}
	out.Custom = make(map[string]CustomResource, len(p.Custom))
	for k, v := range p.Custom {
		attrs := make(map[string]any, len(v.Attributes))
		for ak, av := range v.Attributes {
			attrs[ak] = av
		}
		v.Attributes = attrs
		out.Custom[k] = v
	}
	return out
}
