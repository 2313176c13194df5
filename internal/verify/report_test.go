package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportFormats(t *testing.T) {
	genuine := newVerifier(t).Verify(context.Background(), sealedToken(t), document)
	mismatch := newVerifier(t).Verify(context.Background(), sealedToken(t), []byte("other"))
	broken := newVerifier(t).Verify(context.Background(), "a.b", nil)

	for _, format := range []ReportFormat{FormatText, FormatJSON, FormatMarkdown, FormatHTML} {
		for _, res := range []*Result{genuine, mismatch, broken} {
			var buf bytes.Buffer
			require.NoError(t, NewReportGenerator(format).WithVerbose(true).Generate(res, &buf), format)
			assert.Contains(t, buf.String(), string(res.Verdict), format)
		}
	}
}

func TestReportJSON(t *testing.T) {
	res := newVerifier(t).Verify(context.Background(), sealedToken(t), []byte("other"))

	var buf bytes.Buffer
	require.NoError(t, NewReportGenerator(FormatJSON).Generate(res, &buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "GENUINE", decoded["verdict"])
	assert.Equal(t, false, decoded["document_match"])
	failures := decoded["failures"].([]any)
	require.Len(t, failures, 1)
	assert.Equal(t, "DocumentMismatch", failures[0].(map[string]any)["kind"])
}

func TestReportTextTruncatesHashes(t *testing.T) {
	res := newVerifier(t).Verify(context.Background(), sealedToken(t), document)

	var short, full bytes.Buffer
	require.NoError(t, NewReportGenerator(FormatText).Generate(res, &short))
	require.NoError(t, NewReportGenerator(FormatText).WithVerbose(true).Generate(res, &full))

	assert.NotContains(t, short.String(), res.DocumentHash)
	assert.Contains(t, short.String(), res.DocumentHash[:8]+"...")
	assert.Contains(t, full.String(), res.DocumentHash)
}

func TestReportUnknownFormat(t *testing.T) {
	err := NewReportGenerator("pdf").Generate(&Result{}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseReportFormat(t *testing.T) {
	f, err := ParseReportFormat("MD")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)

	f, err = ParseReportFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseReportFormat("yaml")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	genuine := newVerifier(t).Verify(context.Background(), sealedToken(t), document)
	assert.Equal(t, "[GENUINE] 5 events in 2 blocks", genuine.Summary())

	broken := newVerifier(t).Verify(context.Background(), "nope", nil)
	assert.True(t, strings.HasPrefix(broken.Summary(), "[FORGED] unparseable token"))
}
