package chain

import (
	"errors"
	"fmt"
)

// Integrity failures reported by VerifyBlocks.
var (
	ErrEmptyChain        = errors.New("chain: no blocks")
	ErrInvalidGenesis    = errors.New("chain: first block does not link to GENESIS")
	ErrBlockHashMismatch = errors.New("chain: block hash mismatch")
	ErrChainLinkBroken   = errors.New("chain: broken chain link")
)

// LinkError pinpoints the first block that failed an integrity check.
type LinkError struct {
	Index    int
	Err      error
	Expected string
	Actual   string
}

func (e *LinkError) Error() string {
	if e.Expected != "" || e.Actual != "" {
		return fmt.Sprintf("block %d: %v (expected %s, got %s)", e.Index, e.Err, e.Expected, e.Actual)
	}
	return fmt.Sprintf("block %d: %v", e.Index, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// VerifyBlocks recomputes every block hash and checks that each block links
// to its predecessor. It stops at the first failing block.
func VerifyBlocks(blocks []Block) error {
	if len(blocks) == 0 {
		return &LinkError{Index: 0, Err: ErrEmptyChain}
	}

	for i, b := range blocks {
		if i == 0 {
			if b.PrevHash != Genesis {
				return &LinkError{Index: 0, Err: ErrInvalidGenesis, Expected: Genesis, Actual: b.PrevHash}
			}
		} else if b.PrevHash != blocks[i-1].BlockHash {
			return &LinkError{Index: i, Err: ErrChainLinkBroken, Expected: blocks[i-1].BlockHash, Actual: b.PrevHash}
		}

		expected, err := ComputeBlockHash(b.PrevHash, b.Events)
		if err != nil {
			return &LinkError{Index: i, Err: fmt.Errorf("%w: %v", ErrBlockHashMismatch, err)}
		}
		if expected != b.BlockHash {
			return &LinkError{Index: i, Err: ErrBlockHashMismatch, Expected: expected, Actual: b.BlockHash}
		}
	}
	return nil
}

// Flatten returns all events in chain order.
func Flatten(blocks []Block) []Event {
	n := 0
	for _, b := range blocks {
		n += len(b.Events)
	}
	out := make([]Event, 0, n)
	for _, b := range blocks {
		out = append(out, b.Events...)
	}
	return out
}
