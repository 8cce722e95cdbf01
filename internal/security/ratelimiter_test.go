package security

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, nil)

	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow("client-1") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed = %d, want 3 (burst size)", allowed)
	}
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, nil)

	if !rl.Allow("client-a") {
		t.Fatal("client-a first request should be allowed")
	}
	if !rl.Allow("client-b") {
		t.Fatal("client-b should not be affected by client-a's budget")
	}
	if rl.Allow("client-a") {
		t.Fatal("client-a second request should be rate limited")
	}
}
