package clock

import "testing"

func TestMediaClock_StartAndNow(t *testing.T) {
	c := New()
	c.Start(1_000_000, 0)

	if got := c.NowUs(0); got != 1_000_000 {
		t.Fatalf("NowUs(0) = %d, want 1000000", got)
	}
	if got := c.NowUs(500); got != 1_500_000 {
		t.Fatalf("NowUs(500) = %d, want 1500000", got)
	}
}

func TestMediaClock_Monotonic(t *testing.T) {
	c := New()
	c.Start(0, 0)

	prev := c.NowUs(0)
	for w := int64(1); w <= 1000; w += 13 {
		now := c.NowUs(w)
		if now < prev {
			t.Fatalf("clock went backwards: %d -> %d", prev, now)
		}
		prev = now
	}
}

func TestMediaClock_PauseLatches(t *testing.T) {
	c := New()
	c.Start(0, 0)
	c.Pause(1000) // now_us(1000) == 1_000_000

	if got := c.NowUs(1000); got != 1_000_000 {
		t.Fatalf("NowUs at pause = %d, want 1000000", got)
	}
	if got := c.NowUs(5000); got != 1_000_000 {
		t.Fatalf("NowUs while paused = %d, want constant 1000000", got)
	}
	if !c.Paused() {
		t.Fatal("expected Paused() == true")
	}
}

func TestMediaClock_ResumeContinuity(t *testing.T) {
	c := New()
	c.Start(0, 0)
	c.Pause(1000)
	pausedTs := c.NowUs(1000)

	c.Resume(2000)
	if got := c.NowUs(2000); got != pausedTs {
		t.Fatalf("NowUs immediately after resume = %d, want %d", got, pausedTs)
	}
	if got := c.NowUs(2100); got != pausedTs+100_000 {
		t.Fatalf("NowUs 100ms after resume = %d, want %d", got, pausedTs+100_000)
	}
}

func TestMediaClock_Seek(t *testing.T) {
	c := New()
	c.Start(0, 0)
	c.Seek(5_000_000, 100)

	if got := c.NowUs(100); got != 5_000_000 {
		t.Fatalf("NowUs after seek = %d, want 5000000", got)
	}
	if got := c.NowUs(200); got != 5_100_000 {
		t.Fatalf("NowUs 100ms after seek = %d, want 5100000", got)
	}
}

func TestMediaClock_SetRateContinuity(t *testing.T) {
	c := New()
	c.Start(0, 0)

	before := c.NowUs(1000)
	c.SetRate(2.0, 1000)
	after := c.NowUs(1000)
	if before != after {
		t.Fatalf("rate change was not continuous: before=%d after=%d", before, after)
	}

	if got := c.NowUs(1100); got != after+200_000 {
		t.Fatalf("NowUs 100ms after 2x rate change = %d, want %d", got, after+200_000)
	}
}

func TestMediaClock_SetRateRejectsNonPositive(t *testing.T) {
	c := New()
	c.Start(0, 0)
	c.SetRate(0, 0)
	c.SetRate(-1, 0)
	if got := c.Rate(); got != 1.0 {
		t.Fatalf("Rate() = %v, want 1.0 (non-positive rates rejected)", got)
	}
}
