package chain

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Cross-implementation golden vectors for humansign-canonical-v1.
const (
	goldenBlock0 = "dfa0612c295a8ea9335e672fa5d5716f77893ad116a7e0e2421507e040a9c7d0"
	goldenBlock1 = "54818f95978586a322356b8af061c0e9d5f54866046d18341327c7a78d836661"
)

func twoBlockChain(t *testing.T) *Chain {
	t.Helper()
	c := New()
	c.AddEvent(1000, KeyDown)
	c.AddEvent(1050, KeyUp)
	_, err := c.SealBlock()
	require.NoError(t, err)
	c.AddEvent(1100, KeyDown)
	c.AddEvent(1180, KeyUp)
	c.AddEvent(1210, KeyDown)
	_, err = c.SealBlock()
	require.NoError(t, err)
	return c
}

func TestNewChain(t *testing.T) {
	c := New()
	assert.Equal(t, Genesis, c.PreviousHash())
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 0, c.TotalCount())
	assert.Empty(t, c.Blocks())
}

func TestEncodeEvents(t *testing.T) {
	out, err := EncodeEvents([]Event{{1000, KeyDown}, {1050, KeyUp}})
	require.NoError(t, err)
	assert.Equal(t, `[[1000, "keydown"], [1050, "keyup"]]`, string(out))
}

func TestSealBlockGoldenVectors(t *testing.T) {
	c := twoBlockChain(t)
	blocks := c.Blocks()
	require.Len(t, blocks, 2)

	assert.Equal(t, Genesis, blocks[0].PrevHash)
	assert.Equal(t, goldenBlock0, blocks[0].BlockHash)
	assert.Equal(t, goldenBlock0, blocks[1].PrevHash)
	assert.Equal(t, goldenBlock1, blocks[1].BlockHash)
	assert.Equal(t, goldenBlock1, c.PreviousHash())
}

func TestSealBlockDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		c := New()
		c.AddEvent(1000, KeyDown)
		c.AddEvent(1050, KeyUp)
		b, err := c.SealBlock()
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, goldenBlock0, b.BlockHash)
	}
}

func TestSealBlockEmptyIsNoop(t *testing.T) {
	c := New()
	b, err := c.SealBlock()
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Empty(t, c.Blocks())
	assert.Equal(t, Genesis, c.PreviousHash())
}

func TestSealBlockIdempotent(t *testing.T) {
	c := New()
	c.AddEvent(1000, KeyDown)

	first, err := c.SealBlock()
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := c.SealBlock()
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, 1, c.BlockCount())
}

func TestSealBlockConcurrentTriggers(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.AddEvent(int64(1000+i), KeyDown)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.SealBlock()
		}()
	}
	wg.Wait()

	blocks := c.Blocks()
	require.Len(t, blocks, 1)
	assert.Len(t, blocks[0].Events, 10)
	assert.Equal(t, 10, c.TotalCount())
}

func TestSealedBlockIsACopy(t *testing.T) {
	c := New()
	c.AddEvent(1000, KeyDown)
	b, err := c.SealBlock()
	require.NoError(t, err)

	b.Events[0].Timestamp = 9999
	assert.Equal(t, int64(1000), c.Blocks()[0].Events[0].Timestamp)
}

func TestCounts(t *testing.T) {
	c := New()
	c.AddEvent(1, KeyDown)
	c.AddEvent(2, KeyUp)
	assert.Equal(t, 2, c.PendingCount())
	assert.Equal(t, 2, c.TotalCount())

	_, err := c.SealBlock()
	require.NoError(t, err)
	c.AddEvent(3, KeyDown)
	assert.Equal(t, 1, c.PendingCount())
	assert.Equal(t, 3, c.TotalCount())
}

func TestFinalizeFlushesPending(t *testing.T) {
	c := New()
	c.AddEvent(1000, KeyDown)
	c.AddEvent(1050, KeyUp)

	blocks, err := c.Finalize()
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, goldenBlock0, blocks[0].BlockHash)
	assert.Equal(t, 0, c.PendingCount())

	again, err := c.Finalize()
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestReset(t *testing.T) {
	c := twoBlockChain(t)
	c.AddEvent(5000, KeyDown)
	c.Reset()

	assert.Equal(t, Genesis, c.PreviousHash())
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 0, c.TotalCount())
	assert.Empty(t, c.Blocks())
}

func TestStateRoundTrip(t *testing.T) {
	c := twoBlockChain(t)
	c.AddEvent(1300, KeyUp)
	c.AddEvent(1400, KeyDown)

	data, err := MarshalState(c.State())
	require.NoError(t, err)
	s, err := UnmarshalState(data)
	require.NoError(t, err)

	restored, err := FromState(s)
	require.NoError(t, err)

	assert.Equal(t, c.State(), restored.State())
	assert.Equal(t, 2, restored.PendingCount())
	assert.Equal(t, 7, restored.TotalCount())
	assert.Equal(t, goldenBlock1, restored.PreviousHash())

	// Continuing after restore links onto the same hash as the original.
	b1, err := c.SealBlock()
	require.NoError(t, err)
	b2, err := restored.SealBlock()
	require.NoError(t, err)
	assert.Equal(t, b1.BlockHash, b2.BlockHash)
}

func TestStateRoundTripEmpty(t *testing.T) {
	c := New()
	restored, err := FromState(c.State())
	require.NoError(t, err)
	assert.Equal(t, c.State(), restored.State())
}

func TestStateJSONFieldNames(t *testing.T) {
	c := New()
	c.AddEvent(1000, KeyDown)
	data, err := MarshalState(c.State())
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocks":[],"currentEvents":[[1000,"keydown"]],"previousHash":"GENESIS","eventCount":1}`, string(data))
}

func TestFromStateRejectsInconsistentSnapshot(t *testing.T) {
	c := twoBlockChain(t)

	s := c.State()
	s.PreviousHash = Genesis
	_, err := FromState(s)
	assert.Error(t, err)

	s = c.State()
	s.EventCount = 1
	_, err = FromState(s)
	assert.Error(t, err)
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(Event{Timestamp: 1000, Type: KeyDown})
	require.NoError(t, err)
	assert.Equal(t, `[1000,"keydown"]`, string(data))

	var e Event
	require.NoError(t, json.Unmarshal([]byte(`[1050, "keyup"]`), &e))
	assert.Equal(t, Event{Timestamp: 1050, Type: KeyUp}, e)
}

func TestEventJSONRejectsBadInput(t *testing.T) {
	inputs := []string{
		`[1000.5, "keydown"]`,
		`["1000", "keydown"]`,
		`[1000, "keypress"]`,
		`[1000]`,
		`{"t": 1000}`,
	}
	for _, in := range inputs {
		var e Event
		assert.Error(t, json.Unmarshal([]byte(in), &e), in)
	}
}

func TestVerifyBlocksValid(t *testing.T) {
	assert.NoError(t, VerifyBlocks(twoBlockChain(t).Blocks()))
}

func TestVerifyBlocksEmpty(t *testing.T) {
	err := VerifyBlocks(nil)
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestVerifyBlocksTamper(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b []Block)
		index  int
		want   error
	}{
		{"event timestamp", func(b []Block) { b[1].Events[0].Timestamp++ }, 1, ErrBlockHashMismatch},
		{"event type", func(b []Block) { b[0].Events[1].Type = KeyDown }, 0, ErrBlockHashMismatch},
		{"block hash", func(b []Block) { b[1].BlockHash = goldenBlock0 }, 1, ErrBlockHashMismatch},
		{"first block hash", func(b []Block) { b[0].BlockHash = goldenBlock1 }, 0, ErrBlockHashMismatch},
		{"prev hash", func(b []Block) { b[1].PrevHash = "not-a-hash" }, 1, ErrChainLinkBroken},
		{"genesis", func(b []Block) { b[0].PrevHash = "ORIGIN" }, 0, ErrInvalidGenesis},
		{"dropped event", func(b []Block) { b[1].Events = b[1].Events[:2] }, 1, ErrBlockHashMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := twoBlockChain(t).Blocks()
			tt.mutate(blocks)

			err := VerifyBlocks(blocks)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var linkErr *LinkError
			require.ErrorAs(t, err, &linkErr)
			assert.Equal(t, tt.index, linkErr.Index)
		})
	}
}

func TestFlatten(t *testing.T) {
	events := Flatten(twoBlockChain(t).Blocks())
	require.Len(t, events, 5)
	assert.Equal(t, int64(1000), events[0].Timestamp)
	assert.Equal(t, int64(1210), events[4].Timestamp)
}
