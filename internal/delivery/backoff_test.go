package delivery_test

import (
	"testing"
	"time"

	"github.com/machamire/ndeip-core/internal/delivery"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := delivery.DefaultRetryPolicy()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %s, want %s", attempt, got, w)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	p := delivery.DefaultRetryPolicy()

	// 2^6 seconds would be 64s; the cap holds it at 30s.
	for attempt := 5; attempt < 20; attempt++ {
		if got := p.Delay(attempt); got > p.MaxDelay {
			t.Fatalf("Delay(%d) = %s exceeds cap %s", attempt, got, p.MaxDelay)
		}
	}
	if got := p.Delay(10); got != p.MaxDelay {
		t.Errorf("Delay(10) = %s, want cap %s", got, p.MaxDelay)
	}
}

func TestDelayMonotone(t *testing.T) {
	p := delivery.DefaultRetryPolicy()

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %s shrank from %s", attempt, d, prev)
		}
		prev = d
	}
}

func TestJitteredBounds(t *testing.T) {
	p := delivery.DefaultRetryPolicy()

	base := p.Delay(2)
	low := p.Jittered(2, 0)
	high := p.Jittered(2, 0.999999)

	if low != time.Duration(float64(base)*0.9) {
		t.Errorf("Jittered(2, 0) = %s, want %s", low, time.Duration(float64(base)*0.9))
	}
	if high >= time.Duration(float64(base)*1.1)+time.Millisecond {
		t.Errorf("Jittered(2, ~1) = %s, exceeds +10%% of %s", high, base)
	}
	if p.Jittered(2, 0.5) != base {
		t.Errorf("Jittered(2, 0.5) = %s, want base %s", p.Jittered(2, 0.5), base)
	}
}

func TestNewLocalIDShape(t *testing.T) {
	now := time.Now()
	a := delivery.NewLocalID(now)
	b := delivery.NewLocalID(now)

	if a == b {
		t.Error("two ids from the same instant should differ")
	}
	if len(a) < 10 {
		t.Errorf("id %q suspiciously short", a)
	}
}
