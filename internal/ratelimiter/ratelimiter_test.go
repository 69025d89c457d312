package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		rate      uint
		burst     uint
		unlimited bool
	}{
		{name: "standard rate", rate: 100, burst: 200},
		{name: "default burst", rate: 50, burst: 0},
		{name: "unlimited (zero rate)", rate: 0, burst: 0, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.rate, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if limiter.Unlimited() != tt.unlimited {
				t.Errorf("Unlimited() = %v, want %v", limiter.Unlimited(), tt.unlimited)
			}
		})
	}
}

// TestAllow verifies that Allow() enforces the burst capacity.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow() {
		t.Error("request beyond burst should be rejected")
	}
}

// TestWaitNClampsToBurst verifies an oversized request is admitted instead of failing.
func TestWaitNClampsToBurst(t *testing.T) {
	limiter := New(1000, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := limiter.WaitN(ctx, 50); err != nil {
		t.Fatalf("WaitN() error = %v", err)
	}
}

// TestWaitCancelled verifies that Wait honours context cancellation.
func TestWaitCancelled(t *testing.T) {
	limiter := New(1, 1)
	limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Error("Wait() should fail on a cancelled context")
	}
}

// TestUnlimitedNeverBlocks verifies the zero-rate limiter admits everything.
func TestUnlimitedNeverBlocks(t *testing.T) {
	limiter := New(0, 0)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
}
