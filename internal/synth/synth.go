// Package synth generates synthetic keystroke event streams with
// human-like timing, for exercising the chain, the daemon and the
// verification statistics without manual typing.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"humansign/internal/chain"
)

// Profile describes a typing behaviour. Flight is the keyup to next
// keydown gap; dwell is how long a key is held.
type Profile struct {
	Name        string
	Description string

	MedianFlightMs float64
	FlightStdDevMs float64
	MedianDwellMs  float64
	DwellStdDevMs  float64

	BurstProbability float64 // chance a keystroke starts a fast burst
	BurstFlightMs    float64
	PauseProbability float64 // chance of a thinking pause before a keystroke
	PauseMaxMs       float64
}

var profiles = map[string]Profile{
	"normal": {
		Name:             "normal",
		Description:      "Typical human typing with natural variation",
		MedianFlightMs:   120,
		FlightStdDevMs:   80,
		MedianDwellMs:    95,
		DwellStdDevMs:    30,
		BurstProbability: 0.1,
		BurstFlightMs:    60,
		PauseProbability: 0.03,
		PauseMaxMs:       4000,
	},
	"fast-typist": {
		Name:             "fast-typist",
		Description:      "Experienced typist with quick, consistent pace",
		MedianFlightMs:   70,
		FlightStdDevMs:   35,
		MedianDwellMs:    80,
		DwellStdDevMs:    20,
		BurstProbability: 0.15,
		BurstFlightMs:    40,
		PauseProbability: 0.01,
		PauseMaxMs:       2000,
	},
	"slow-thoughtful": {
		Name:             "slow-thoughtful",
		Description:      "Careful, deliberate writing with many pauses",
		MedianFlightMs:   250,
		FlightStdDevMs:   180,
		MedianDwellMs:    110,
		DwellStdDevMs:    40,
		BurstProbability: 0.02,
		BurstFlightMs:    120,
		PauseProbability: 0.12,
		PauseMaxMs:       15000,
	},
	"scripted": {
		Name:             "scripted",
		Description:      "Machine replay with near-constant intervals",
		MedianFlightMs:   30,
		FlightStdDevMs:   0,
		MedianDwellMs:    10,
		DwellStdDevMs:    0,
		BurstProbability: 0,
		PauseProbability: 0,
	},
}

// Lookup returns the named profile.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("synth: unknown profile %q", name)
	}
	return p, nil
}

// Profiles returns every profile sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Generate produces keystrokes keydown/keyup pairs starting at startMs.
// Timestamps are strictly increasing and every keydown is followed by its
// keyup before the next keydown.
func Generate(rng *rand.Rand, p Profile, keystrokes int, startMs int64) []chain.Event {
	events := make([]chain.Event, 0, 2*keystrokes)
	now := startMs
	burstRemaining := 0

	for i := 0; i < keystrokes; i++ {
		if i > 0 {
			var flight float64
			switch {
			case burstRemaining > 0:
				flight = p.BurstFlightMs * (0.5 + rng.Float64())
				burstRemaining--
			case rng.Float64() < p.PauseProbability:
				flight = p.MedianFlightMs + rng.Float64()*p.PauseMaxMs
			case rng.Float64() < p.BurstProbability:
				burstRemaining = 3 + rng.Intn(10)
				flight = p.BurstFlightMs * (0.5 + rng.Float64())
			default:
				flight = logNormalSample(rng, p.MedianFlightMs, p.FlightStdDevMs)
			}
			now += atLeastOne(flight)
		}
		events = append(events, chain.Event{Timestamp: now, Type: chain.KeyDown})

		now += atLeastOne(logNormalSample(rng, p.MedianDwellMs, p.DwellStdDevMs))
		events = append(events, chain.Event{Timestamp: now, Type: chain.KeyUp})
	}
	return events
}

func atLeastOne(ms float64) int64 {
	if ms < 1 {
		return 1
	}
	return int64(math.Round(ms))
}

// logNormalSample draws from a log-normal distribution with the given
// median. A zero stdDev returns the median exactly.
func logNormalSample(rng *rand.Rand, median, stdDev float64) float64 {
	if stdDev <= 0 || median <= 0 {
		return median
	}
	mu := math.Log(median)
	sigma := math.Log(1 + stdDev/median)

	// Box-Muller
	u1 := 1 - rng.Float64()
	u2 := rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	return math.Exp(mu + sigma*z)
}
