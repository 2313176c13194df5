package chain

import (
	"encoding/json"
	"fmt"
)

// State is the persisted form of a Chain, sufficient to resume an
// interrupted session exactly where it stopped.
type State struct {
	Blocks        []Block `json:"blocks"`
	CurrentEvents []Event `json:"currentEvents"`
	PreviousHash  string  `json:"previousHash"`
	EventCount    int     `json:"eventCount"`
}

// State snapshots the chain.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make([]Event, len(c.pending))
	copy(pending, c.pending)

	return State{
		Blocks:        cloneBlocks(c.blocks),
		CurrentEvents: pending,
		PreviousHash:  c.previousHash,
		EventCount:    c.eventCount,
	}
}

// FromState rebuilds a chain from a snapshot. The snapshot must be
// internally consistent: previousHash has to be the last block hash (or
// Genesis for an empty chain) and the event count cannot be smaller than
// the events it holds.
func FromState(s State) (*Chain, error) {
	expectedPrev := Genesis
	held := len(s.CurrentEvents)
	for _, b := range s.Blocks {
		held += len(b.Events)
	}
	if n := len(s.Blocks); n > 0 {
		expectedPrev = s.Blocks[n-1].BlockHash
	}
	if s.PreviousHash != expectedPrev {
		return nil, fmt.Errorf("chain: state previousHash %q does not match last block %q", s.PreviousHash, expectedPrev)
	}
	if s.EventCount < held {
		return nil, fmt.Errorf("chain: state eventCount %d is less than %d held events", s.EventCount, held)
	}

	c := &Chain{
		blocks:       cloneBlocks(s.Blocks),
		previousHash: s.PreviousHash,
		eventCount:   s.EventCount,
	}
	if len(s.CurrentEvents) > 0 {
		c.pending = make([]Event, len(s.CurrentEvents))
		copy(c.pending, s.CurrentEvents)
	}
	return c, nil
}

// MarshalState encodes a snapshot for durable storage.
func MarshalState(s State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal state: %w", err)
	}
	return data, nil
}

// UnmarshalState decodes a snapshot written by MarshalState.
func UnmarshalState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("chain: unmarshal state: %w", err)
	}
	return s, nil
}
