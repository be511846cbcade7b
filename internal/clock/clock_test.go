package clock_test

import (
	"testing"
	"time"

	"consultation-service/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualAdvanceFiresTicker(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	ticker := clk.NewTicker(time.Minute)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before the interval elapsed")
	default:
	}

	clk.Advance(time.Minute)

	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after one interval")
	}
}

func TestManualBoundedCatchUp(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	ticker := clk.NewTicker(time.Minute)
	defer ticker.Stop()

	// Five intervals pass without the receiver draining: at most one tick is
	// pending, never a burst.
	clk.Advance(5 * time.Minute)

	ticks := 0
	for {
		select {
		case <-ticker.C():
			ticks++
		default:
			assert.Equal(t, 1, ticks)
			return
		}
	}
}

func TestManualStop(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	ticker := clk.NewTicker(time.Minute)
	ticker.Stop()

	clk.Advance(3 * time.Minute)

	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestManualNow(t *testing.T) {
	start := time.Unix(1000, 0)
	clk := clock.NewManual(start)
	require.Equal(t, start, clk.Now())

	clk.Advance(90 * time.Second)
	require.Equal(t, start.Add(90*time.Second), clk.Now())
}

func TestWallTickerDelivers(t *testing.T) {
	clk := clock.NewWall()
	ticker := clk.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("wall ticker did not fire")
	}
}
