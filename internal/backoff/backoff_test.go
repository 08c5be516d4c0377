package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := delayWithRand(p, tt.attempt, 0); got != tt.want {
			t.Errorf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayClampsToMax(t *testing.T) {
	p := Policy{Initial: 1 * time.Second, Max: 2 * time.Second, Factor: 10, Jitter: 0}
	if got := delayWithRand(p, 5, 0); got != 2*time.Second {
		t.Errorf("delay = %v, want clamp at 2s", got)
	}
}

func TestDelayAppliesJitter(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.5}

	noJitter := delayWithRand(p, 1, 0)
	fullJitter := delayWithRand(p, 1, 0.999)
	if fullJitter <= noJitter {
		t.Errorf("jittered delay %v should exceed base %v", fullJitter, noJitter)
	}
	if fullJitter > 150*time.Millisecond {
		t.Errorf("jittered delay %v exceeds jitter bound", fullJitter)
	}
}

func TestSleepRespectsCancellation(t *testing.T) {
	p := Policy{Initial: 10 * time.Second, Max: 10 * time.Second, Factor: 1, Jitter: 0}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, p, 1)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep took %v after cancellation", elapsed)
	}
}

func TestSleepZeroDelay(t *testing.T) {
	p := Policy{Initial: 0, Max: 0, Factor: 2, Jitter: 0}
	if err := Sleep(context.Background(), p, 1); err != nil {
		t.Errorf("Sleep = %v, want nil", err)
	}
}
