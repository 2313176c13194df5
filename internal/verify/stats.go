package verify

import "humansign/internal/chain"

// charsPerWord is the conventional five keystrokes per word.
const charsPerWord = 5

// Stats are informational figures derived from a chain. They never affect
// the verdict.
type Stats struct {
	EventCount   int   `json:"event_count"`
	BlockCount   int   `json:"block_count"`
	KeydownCount int   `json:"keydown_count"`
	DurationMs   int64 `json:"duration_ms"`

	KeysPerMinute float64 `json:"keys_per_minute"`
	EstimatedWPM  float64 `json:"estimated_wpm"`

	MeanHoldMs     float64 `json:"mean_hold_ms"`
	MeanDownDownMs float64 `json:"mean_down_down_ms"`
	MeanUpDownMs   float64 `json:"mean_up_down_ms"`
}

// Timings are the inter-key intervals extracted from an event stream.
// Events carry no key identity, so a keyup closes the most recent open
// keydown and overlapping keys are not tracked.
type Timings struct {
	Hold     []int64 // keydown to the following keyup
	DownDown []int64 // keydown to keydown
	UpDown   []int64 // keyup to the next keydown
}

// ExtractTimings walks events in order and collects interval samples.
func ExtractTimings(events []chain.Event) Timings {
	var (
		t           Timings
		lastDown    int64
		lastUp      int64
		haveDown    bool
		haveUp      bool
		activeDown  int64
		downPending bool
	)

	for _, e := range events {
		switch e.Type {
		case chain.KeyDown:
			if haveDown {
				t.DownDown = append(t.DownDown, e.Timestamp-lastDown)
			}
			if haveUp {
				t.UpDown = append(t.UpDown, e.Timestamp-lastUp)
			}
			lastDown, haveDown = e.Timestamp, true
			activeDown, downPending = e.Timestamp, true
		case chain.KeyUp:
			if !downPending {
				continue
			}
			t.Hold = append(t.Hold, e.Timestamp-activeDown)
			lastUp, haveUp = e.Timestamp, true
			downPending = false
		}
	}
	return t
}

// ComputeStats derives Stats from blocks. Duration runs from the first
// event of the first block to the last event of the last block.
func ComputeStats(blocks []chain.Block) Stats {
	events := chain.Flatten(blocks)
	s := Stats{
		EventCount: len(events),
		BlockCount: len(blocks),
	}
	for _, e := range events {
		if e.Type == chain.KeyDown {
			s.KeydownCount++
		}
	}
	if len(events) > 1 {
		s.DurationMs = events[len(events)-1].Timestamp - events[0].Timestamp
	}
	if s.DurationMs > 0 {
		minutes := float64(s.DurationMs) / 60000
		s.KeysPerMinute = float64(s.KeydownCount) / minutes
		s.EstimatedWPM = s.KeysPerMinute / charsPerWord
	}

	t := ExtractTimings(events)
	s.MeanHoldMs = mean(t.Hold)
	s.MeanDownDownMs = mean(t.DownDown)
	s.MeanUpDownMs = mean(t.UpDown)
	return s
}

func mean(xs []int64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int64
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}
