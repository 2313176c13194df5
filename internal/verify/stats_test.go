package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"humansign/internal/chain"
)

func ev(ts int64, typ chain.EventType) chain.Event {
	return chain.Event{Timestamp: ts, Type: typ}
}

func TestExtractTimings(t *testing.T) {
	events := []chain.Event{
		ev(1000, chain.KeyDown),
		ev(1050, chain.KeyUp),
		ev(1100, chain.KeyDown),
		ev(1180, chain.KeyUp),
		ev(1210, chain.KeyDown),
	}
	got := ExtractTimings(events)
	assert.Equal(t, []int64{50, 80}, got.Hold)
	assert.Equal(t, []int64{100, 110}, got.DownDown)
	assert.Equal(t, []int64{50, 30}, got.UpDown)
}

func TestExtractTimingsUnmatchedKeyup(t *testing.T) {
	events := []chain.Event{
		ev(900, chain.KeyUp),
		ev(1000, chain.KeyDown),
		ev(1040, chain.KeyUp),
		ev(1060, chain.KeyUp),
	}
	got := ExtractTimings(events)
	assert.Equal(t, []int64{40}, got.Hold)
	assert.Empty(t, got.DownDown)
	assert.Empty(t, got.UpDown)
}

func TestComputeStats(t *testing.T) {
	blocks := []chain.Block{
		{Events: []chain.Event{ev(1000, chain.KeyDown), ev(1050, chain.KeyUp)}},
		{Events: []chain.Event{ev(1100, chain.KeyDown), ev(1180, chain.KeyUp), ev(1210, chain.KeyDown)}},
	}
	s := ComputeStats(blocks)

	assert.Equal(t, 5, s.EventCount)
	assert.Equal(t, 2, s.BlockCount)
	assert.Equal(t, 3, s.KeydownCount)
	assert.Equal(t, int64(210), s.DurationMs)
	assert.InDelta(t, 857.142857, s.KeysPerMinute, 1e-3)
	assert.InDelta(t, 171.428571, s.EstimatedWPM, 1e-3)
	assert.InDelta(t, 65.0, s.MeanHoldMs, 1e-9)
	assert.InDelta(t, 105.0, s.MeanDownDownMs, 1e-9)
	assert.InDelta(t, 40.0, s.MeanUpDownMs, 1e-9)
}

func TestComputeStatsDegenerate(t *testing.T) {
	assert.Equal(t, Stats{}, ComputeStats(nil))

	single := ComputeStats([]chain.Block{{Events: []chain.Event{ev(5, chain.KeyDown)}}})
	assert.Equal(t, 1, single.EventCount)
	assert.Equal(t, int64(0), single.DurationMs)
	assert.Zero(t, single.KeysPerMinute)
}
