// Package chain implements the hash-linked keystroke event chain.
//
// Events accumulate in a pending buffer until the buffer is sealed into a
// Block. Each block commits to its predecessor:
//
//	block_hash = hex(SHA-256(prev_hash || canonical(events)))
//
// where the first block uses the Genesis sentinel as prev_hash.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"humansign/internal/canonical"
)

// Genesis is the prev_hash of the first block in every chain.
const Genesis = "GENESIS"

// Block is a sealed batch of events linked to its predecessor.
type Block struct {
	Events    []Event `json:"events"`
	PrevHash  string  `json:"prev_hash"`
	BlockHash string  `json:"block_hash"`
}

// EncodeEvents returns the canonical hash input for a list of events.
func EncodeEvents(events []Event) ([]byte, error) {
	tuples := make([]any, len(events))
	for i, e := range events {
		tuples[i] = e.tuple()
	}
	return canonical.Marshal(tuples)
}

// ComputeBlockHash derives the block hash for events following prevHash.
func ComputeBlockHash(prevHash string, events []Event) (string, error) {
	encoded, err := EncodeEvents(events)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Chain accumulates events and seals them into linked blocks.
//
// A Chain has a single logical owner, but sealing may be triggered from a
// timer goroutine as well as from AddEvent, so every method takes the lock.
type Chain struct {
	mu           sync.Mutex
	blocks       []Block
	pending      []Event
	previousHash string
	eventCount   int
}

// New returns an empty chain anchored at Genesis.
func New() *Chain {
	return &Chain{previousHash: Genesis}
}

// AddEvent appends an event to the pending buffer.
func (c *Chain) AddEvent(timestamp int64, typ EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, Event{Timestamp: timestamp, Type: typ})
	c.eventCount++
}

// PendingCount returns the number of events not yet sealed.
func (c *Chain) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// TotalCount returns every event ever added, sealed or pending.
func (c *Chain) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventCount
}

// BlockCount returns the number of sealed blocks.
func (c *Chain) BlockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// PreviousHash returns the hash the next block will link to.
func (c *Chain) PreviousHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

// Blocks returns a copy of the sealed blocks.
func (c *Chain) Blocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneBlocks(c.blocks)
}

// SealBlock moves the pending events into a new block. It returns nil with
// no error when nothing is pending, so repeated calls never emit an empty
// block.
func (c *Chain) SealBlock() (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealLocked()
}

func (c *Chain) sealLocked() (*Block, error) {
	if len(c.pending) == 0 {
		return nil, nil
	}

	events := make([]Event, len(c.pending))
	copy(events, c.pending)

	hash, err := ComputeBlockHash(c.previousHash, events)
	if err != nil {
		return nil, fmt.Errorf("chain: seal block %d: %w", len(c.blocks), err)
	}

	block := Block{
		Events:    events,
		PrevHash:  c.previousHash,
		BlockHash: hash,
	}
	c.blocks = append(c.blocks, block)
	c.previousHash = hash
	c.pending = nil

	out := cloneBlock(block)
	return &out, nil
}

// Finalize flushes any pending events and returns every block.
func (c *Chain) Finalize() ([]Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.sealLocked(); err != nil {
		return nil, err
	}
	return cloneBlocks(c.blocks), nil
}

// Reset returns the chain to its initial empty state.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = nil
	c.pending = nil
	c.previousHash = Genesis
	c.eventCount = 0
}

func cloneBlock(b Block) Block {
	events := make([]Event, len(b.Events))
	copy(events, b.Events)
	b.Events = events
	return b
}

func cloneBlocks(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = cloneBlock(b)
	}
	return out
}
