package session

import (
	"context"

	"humansign/internal/logging"
	"humansign/internal/metrics"
	"humansign/internal/verify"
)

// RecordingVerifier wraps a Verifier with metrics and audit recording.
// Nil metrics and audit are allowed.
type RecordingVerifier struct {
	v       *verify.Verifier
	audit   *logging.AuditLogger
	metrics *metrics.Metrics
}

// NewRecordingVerifier returns a RecordingVerifier around v.
func NewRecordingVerifier(v *verify.Verifier, audit *logging.AuditLogger, mt *metrics.Metrics) *RecordingVerifier {
	return &RecordingVerifier{v: v, audit: audit, metrics: mt}
}

// Verify checks tok and records the outcome.
func (r *RecordingVerifier) Verify(ctx context.Context, tok string, document []byte) *verify.Result {
	res := r.v.Verify(ctx, tok, document)

	kinds := make([]string, 0, len(res.Failures)+1)
	if res.ParseError != nil {
		kinds = append(kinds, string(res.ParseError.Kind))
	}
	for _, f := range res.Failures {
		kinds = append(kinds, string(f.Kind))
	}
	r.metrics.ObserveVerification(string(res.Verdict), kinds, res.Duration)

	details := map[string]any{
		"signature_valid": res.SignatureValid,
		"chain_valid":     res.ChainValid,
	}
	if len(kinds) > 0 {
		details["failures"] = kinds
	}
	if res.DocumentChecked {
		details["document_match"] = res.DocumentMatch
	}
	_ = r.audit.LogVerification(ctx, res.DocumentHash, res.Genuine(), details)
	return res
}
