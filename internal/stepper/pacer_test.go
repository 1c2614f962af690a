package stepper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_Interval(t *testing.T) {
	p := NewPacer(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, p.Interval())

	p.SetInterval(-time.Second)
	assert.Equal(t, time.Duration(0), p.Interval())
}

func TestPacer_ZeroIntervalDoesNotBlock(t *testing.T) {
	p := NewPacer(0)
	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestPacer_SpeedChangeAppliesToNextTick(t *testing.T) {
	p := NewPacer(time.Hour)
	require.NoError(t, p.Wait(context.Background()), "first tick uses the initial burst")

	p.SetInterval(0)
	done := make(chan error, 1)
	go func() { done <- p.Wait(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait kept the old interval after SetInterval")
	}
}

func TestPacer_WaitHonoursCancellation(t *testing.T) {
	p := NewPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}
