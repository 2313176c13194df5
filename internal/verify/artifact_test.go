package verify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleToken = "aGVhZGVy.cGF5bG9hZA.c2ln"

func TestParseArtifact(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"bare", sampleToken},
		{"bare with whitespace", "\n  " + sampleToken + " \r\n"},
		{"json wrapper", `{"jws": "` + sampleToken + `"}`},
		{"json wrapper with extra fields", `{"version": 1, "jws": "` + sampleToken + `"}` + "\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseArtifact([]byte(tc.in), DefaultMaxArtifactBytes)
			require.NoError(t, err)
			assert.Equal(t, sampleToken, got)
		})
	}
}

func TestParseArtifactErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrArtifactEmpty},
		{"whitespace", []byte("   \n"), ErrArtifactEmpty},
		{"not json", []byte("hello world"), ErrArtifactFormat},
		{"missing jws", []byte(`{"token": "a.b.c"}`), ErrArtifactFormat},
		{"invalid utf8", []byte{0xff, 0xfe, '.', '.'}, ErrArtifactFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseArtifact(tc.in, DefaultMaxArtifactBytes)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseArtifactSizeLimit(t *testing.T) {
	big := []byte(strings.Repeat("a", 101))
	_, err := ParseArtifact(big, 100)
	assert.ErrorIs(t, err, ErrArtifactTooLarge)

	_, err = ParseArtifact([]byte(sampleToken), 0)
	assert.NoError(t, err)
}

func TestParseArtifactEnvelope(t *testing.T) {
	data := []byte("{\n  \"jws\": \"" + sampleToken + "\"\n}\n")
	got, err := ParseArtifact(data, DefaultMaxArtifactBytes)
	require.NoError(t, err)
	assert.Equal(t, sampleToken, got)
}
