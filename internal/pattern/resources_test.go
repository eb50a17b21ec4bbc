package pattern

import (
	"testing"
	"time"
)

func TestReserveAndReleaseMemory(t *testing.T) {
	pool := NewResourcePool(1<<30, 4, 1000)

	if err := pool.ReserveMemory("owner", 512<<20); err != nil {
		t.Fatalf("reserve error: %v", err)
	}
	if pool.Memory.AvailableBytes != 512<<20 {
		t.Errorf("expected 512MB available, got %d", pool.Memory.AvailableBytes)
	}
	if pool.MemoryUtilization() != 0.5 {
		t.Errorf("expected 0.5 utilization, got %f", pool.MemoryUtilization())
	}

	if err := pool.ReserveMemory("greedy", 1 << 30); err == nil {
		t.Fatal("expected over-reservation to fail")
	}

	pool.ReleaseMemory("owner")
	if pool.Memory.AvailableBytes != 1<<30 || pool.Memory.AllocatedBytes != 0 {
		t.Errorf("expected full release, got available=%d allocated=%d",
			pool.Memory.AvailableBytes, pool.Memory.AllocatedBytes)
	}

	// Releasing an unknown owner is a no-op.
	pool.ReleaseMemory("unknown")
	if pool.Memory.AvailableBytes != 1<<30 {
		t.Error("release of unknown owner changed the pool")
	}
}

func TestReserveAndReleaseCores(t *testing.T) {
	pool := NewResourcePool(1<<30, 4, 1000)

	if err := pool.ReserveCores("owner", 2.5); err != nil {
		t.Fatalf("reserve error: %v", err)
	}
	if pool.CPU.AvailableCores != 1.5 {
		t.Errorf("expected 1.5 cores available, got %f", pool.CPU.AvailableCores)
	}

	if err := pool.ReserveCores("greedy", 2); err == nil {
		t.Fatal("expected over-reservation to fail")
	}

	pool.ReleaseCores("owner")
	if pool.CPU.AvailableCores != 4 || pool.CPU.AllocatedCores != 0 {
		t.Errorf("expected full release, got available=%f allocated=%f",
			pool.CPU.AvailableCores, pool.CPU.AllocatedCores)
	}
}

func TestFileLockConflicts(t *testing.T) {
	pool := NewResourcePool(1<<30, 4, 1000)

	err := pool.AcquireFileLock(FileLock{ID: "l1", Path: "/tmp/a", Owner: "a1", Exclusive: true})
	if err != nil {
		t.Fatalf("acquire error: %v", err)
	}

	// Exclusive conflict on same path
	err = pool.AcquireFileLock(FileLock{ID: "l2", Path: "/tmp/a", Owner: "a2"})
	if err == nil {
		t.Fatal("expected conflict with exclusive lock")
	}

	// Different path is fine
	if err := pool.AcquireFileLock(FileLock{ID: "l3", Path: "/tmp/b", Owner: "a2"}); err != nil {
		t.Fatalf("acquire on free path failed: %v", err)
	}

	// Two shared locks may coexist
	if err := pool.AcquireFileLock(FileLock{ID: "l4", Path: "/tmp/b", Owner: "a3"}); err != nil {
		t.Fatalf("shared lock coexistence failed: %v", err)
	}

	pool.ReleaseFileLock("l1")
	if err := pool.AcquireFileLock(FileLock{ID: "l5", Path: "/tmp/a", Owner: "a2"}); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestFileLockExpiry(t *testing.T) {
	pool := NewResourcePool(1<<30, 4, 1000)

	past := time.Now().Add(-time.Minute)
	err := pool.AcquireFileLock(FileLock{ID: "l1", Path: "/tmp/a", Owner: "a1", Exclusive: true, ExpiresAt: &past})
	if err != nil {
		t.Fatalf("acquire error: %v", err)
	}

	// Expired locks do not block new acquisitions.
	err = pool.AcquireFileLock(FileLock{ID: "l2", Path: "/tmp/a", Owner: "a2", Exclusive: true})
	if err != nil {
		t.Fatalf("expected expired lock to be ignored: %v", err)
	}
}

func TestPoolBalanced(t *testing.T) {
	pool := NewResourcePool(1<<30, 4, 1000)
	if !pool.Balanced() {
		t.Error("fresh pool must be balanced")
	}

	pool.ReserveMemory("owner", 256<<20)
	if !pool.Balanced() {
		t.Error("pool must stay balanced through reservation")
	}

	// Hand-built pool violating the accounting identity
	broken := &ResourcePool{
		Memory: MemoryPool{TotalBytes: 100, AvailableBytes: 80, AllocatedBytes: 80},
	}
	if broken.Balanced() {
		t.Error("expected over-accounted pool to be unbalanced")
	}
}

func TestPoolClone(t *testing.T) {
	pool := NewResourcePool(1<<30, 4, 1000)
	pool.ReserveMemory("owner", 128<<20)
	pool.AcquireFileLock(FileLock{ID: "l1", Path: "/tmp/a", Owner: "a1"})
	pool.Custom["gpu"] = CustomResource{Name: "gpu", Total: 2, Available: 2, Attributes: map[string]any{"model": "a100"}}

	clone := pool.Clone()
	clone.ReleaseMemory("owner")
	clone.ReleaseFileLock("l1")
	clone.Custom["gpu"].Attributes["model"] = "other"

	if pool.Memory.AllocatedBytes != 128<<20 {
		t.Error("clone release leaked into original memory accounting")
	}
	if _, ok := pool.FileLocks["l1"]; !ok {
		t.Error("clone release leaked into original locks")
	}
	if pool.Custom["gpu"].Attributes["model"] != "a100" {
		t.Error("clone attribute mutation leaked into original")
	}
}
