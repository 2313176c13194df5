package schemavalidation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "payload-v1.json"))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSchemaCompiles(t *testing.T) {
	s, err := PayloadSchema()
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.True(t, json.Valid(RawPayloadSchema()))
}

func TestFixtureValidates(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "payload-v1.json"))
	require.NoError(t, err)
	require.NoError(t, ValidatePayload(data))
}

func TestSchemaRejections(t *testing.T) {
	block := func(m map[string]any) map[string]any {
		return m["chain"].([]any)[0].(map[string]any)
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"missing subject", func(m map[string]any) { delete(m, "subject") }},
		{"missing chain", func(m map[string]any) { delete(m, "chain") }},
		{"string session index", func(m map[string]any) { m["sessionIndex"] = "1" }},
		{"fractional iat", func(m map[string]any) { m["iat"] = 1.5 }},
		{"short document hash", func(m map[string]any) { m["document_hash"] = "abc" }},
		{"uppercase document hash", func(m map[string]any) {
			m["document_hash"] = "B94D27B9934D3E08A52E52D7DA7DABFAC484EFE37A5380EE9088F7ACE2EFCDE9"
		}},
		{"chain not array", func(m map[string]any) { m["chain"] = map[string]any{} }},
		{"block missing prev_hash", func(m map[string]any) { delete(block(m), "prev_hash") }},
		{"unknown event type", func(m map[string]any) {
			block(m)["events"] = []any{[]any{1000, "keypress"}}
		}},
		{"fractional timestamp", func(m map[string]any) {
			block(m)["events"] = []any{[]any{1000.5, "keydown"}}
		}},
		{"event with three elements", func(m map[string]any) {
			block(m)["events"] = []any{[]any{1000, "keydown", "a"}}
		}},
		{"event with one element", func(m map[string]any) {
			block(m)["events"] = []any{[]any{1000}}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := loadFixture(t)
			tc.mutate(m)
			err := ValidatePayload(encode(t, m))
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

// Hash values are only loosely typed so that tampered chains reach the
// integrity checks and report the failing block.
func TestSchemaAllowsTamperedHashes(t *testing.T) {
	m := loadFixture(t)
	b := m["chain"].([]any)[0].(map[string]any)
	b["prev_hash"] = "not-genesis"
	b["block_hash"] = "deadbeef"
	assert.NoError(t, ValidatePayload(encode(t, m)))
}

func TestValidatePayloadNotJSON(t *testing.T) {
	assert.ErrorIs(t, ValidatePayload([]byte("{")), ErrSchema)
}
