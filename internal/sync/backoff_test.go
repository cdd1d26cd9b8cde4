package sync

import (
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // 32s capped
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d): got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicyDelayIsPure(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 3, MaxDelay: time.Minute, MaxAttempts: 5}
	for i := 0; i < 3; i++ {
		if got := p.Delay(3); got != 9*time.Second {
			t.Fatalf("Delay(3) run %d: got %v, want 9s", i, got)
		}
	}
}

func TestPolicyDelayBaseAboveCap(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Minute, Multiplier: 2, MaxDelay: 30 * time.Second, MaxAttempts: 3}
	if got := p.Delay(1); got != 30*time.Second {
		t.Errorf("Delay(1): got %v, want 30s", got)
	}
}
