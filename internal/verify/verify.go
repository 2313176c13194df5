// Package verify checks humansign tokens: framing, payload contract,
// signature, chain integrity and, optionally, the document binding.
//
// Verification outcomes are data, not errors. Verify always returns a
// Result describing every check that ran.
package verify

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"humansign/internal/chain"
	"humansign/internal/logging"
	"humansign/internal/schemavalidation"
	"humansign/internal/seal"
	"humansign/internal/signer"
	"humansign/internal/token"
)

// ErrDocumentMismatch describes a valid token presented with a different
// document than the one it was sealed over.
var ErrDocumentMismatch = errors.New("verify: document hash does not match token")

// Kind classifies a verification failure.
type Kind string

const (
	KindMalformedToken    Kind = "MalformedToken"
	KindDecodeError       Kind = "DecodeError"
	KindSignatureInvalid  Kind = "SignatureInvalid"
	KindEmptyChain        Kind = "EmptyChain"
	KindInvalidGenesis    Kind = "InvalidGenesis"
	KindBlockHashMismatch Kind = "BlockHashMismatch"
	KindChainLinkBroken   Kind = "ChainLinkBroken"
	KindDocumentMismatch  Kind = "DocumentMismatch"
)

// Verdict is the overall outcome.
type Verdict string

const (
	VerdictGenuine Verdict = "GENUINE"
	VerdictForged  Verdict = "FORGED"
)

// CheckStatus is the state of a single check.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
)

// Check names, in the order they run.
const (
	CheckDecode    = "decode"
	CheckSchema    = "schema"
	CheckSignature = "signature"
	CheckChain     = "chain"
	CheckDocument  = "document"
)

// Check records one verification step.
type Check struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// Failure is a classified failure. Index is the failing block for chain
// failures and -1 otherwise.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// ChainFailure identifies the first block that failed integrity checks.
type ChainFailure struct {
	Index int  `json:"index"`
	Kind  Kind `json:"kind"`
}

// Result is the outcome of verifying one token.
type Result struct {
	Verdict Verdict `json:"verdict"`

	// Parsed is false when the token could not be decoded at all;
	// ParseError then says why.
	Parsed     bool     `json:"parsed"`
	ParseError *Failure `json:"parse_error,omitempty"`

	SignatureValid  bool          `json:"signature_valid"`
	ChainValid      bool          `json:"chain_valid"`
	ChainFailure    *ChainFailure `json:"chain_failure,omitempty"`
	DocumentChecked bool          `json:"document_checked"`
	DocumentMatch   bool          `json:"document_match"`

	Checks   []Check   `json:"checks"`
	Failures []Failure `json:"failures,omitempty"`
	Stats    *Stats    `json:"stats,omitempty"`

	Subject        string    `json:"subject,omitempty"`
	SessionIndex   int       `json:"session_index"`
	Rep            int       `json:"rep"`
	DocumentHash   string    `json:"document_hash,omitempty"`
	IssuedAt       time.Time `json:"issued_at,omitempty"`
	KeyFingerprint string    `json:"key_fingerprint,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Genuine reports whether the signature and chain both verified.
func (r *Result) Genuine() bool {
	return r.Verdict == VerdictGenuine
}

// HasFailure reports whether a failure of kind k was recorded.
func (r *Result) HasFailure(k Kind) bool {
	if r.ParseError != nil && r.ParseError.Kind == k {
		return true
	}
	for _, f := range r.Failures {
		if f.Kind == k {
			return true
		}
	}
	return false
}

func (r *Result) addCheck(name string, status CheckStatus, msg string) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Message: msg})
}

func (r *Result) fail(k Kind, index int, err error) {
	r.Failures = append(r.Failures, Failure{Kind: k, Index: index, Message: err.Error()})
}

// Verifier checks tokens against a single public key. It holds no mutable
// state and is safe for concurrent use.
type Verifier struct {
	pub         *rsa.PublicKey
	fingerprint string
	logger      *logging.Logger
	now         func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger used for verification events.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// WithClock overrides the clock used to time verification.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New returns a Verifier for pub.
func New(pub *rsa.PublicKey, opts ...Option) *Verifier {
	v := &Verifier{pub: pub, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logging.Default()
	}
	v.logger = v.logger.WithComponent("verify")
	if pub != nil {
		if fp, err := signer.Fingerprint(pub); err == nil {
			v.fingerprint = fp
		}
	}
	return v
}

// Fingerprint returns the SSH-style fingerprint of the verification key.
func (v *Verifier) Fingerprint() string {
	return v.fingerprint
}

// Verify checks tok. When document is non-nil its hash is compared to the
// sealed document_hash; a mismatch is reported but does not change the
// verdict.
func (v *Verifier) Verify(ctx context.Context, tok string, document []byte) *Result {
	start := v.now()
	res := &Result{Verdict: VerdictForged, KeyFingerprint: v.fingerprint}
	defer func() {
		res.Duration = v.now().Sub(start)
		v.logger.WithContext(ctx).Debug("token verified",
			"verdict", string(res.Verdict),
			"parsed", res.Parsed,
			"failures", len(res.Failures),
		)
	}()

	dec, err := token.Decode(tok)
	if err != nil {
		kind := KindDecodeError
		if errors.Is(err, token.ErrMalformedToken) {
			kind = KindMalformedToken
		}
		res.ParseError = &Failure{Kind: kind, Index: -1, Message: err.Error()}
		res.addCheck(CheckDecode, StatusFailed, err.Error())
		return res
	}
	res.addCheck(CheckDecode, StatusPassed, "")

	if err := schemavalidation.ValidatePayload(dec.PayloadJSON); err != nil {
		res.ParseError = &Failure{Kind: KindDecodeError, Index: -1, Message: err.Error()}
		res.addCheck(CheckSchema, StatusFailed, err.Error())
		return res
	}
	var payload seal.Payload
	if err := dec.UnmarshalPayload(&payload); err != nil {
		res.ParseError = &Failure{Kind: KindDecodeError, Index: -1, Message: err.Error()}
		res.addCheck(CheckSchema, StatusFailed, err.Error())
		return res
	}
	res.addCheck(CheckSchema, StatusPassed, "")
	res.Parsed = true
	res.Subject = payload.Subject
	res.SessionIndex = payload.SessionIndex
	res.Rep = payload.Rep
	res.DocumentHash = payload.DocumentHash
	res.IssuedAt = time.Unix(payload.IssuedAt, 0).UTC()

	if err := v.checkSignature(dec); err != nil {
		res.fail(KindSignatureInvalid, -1, err)
		res.addCheck(CheckSignature, StatusFailed, err.Error())
	} else {
		res.SignatureValid = true
		res.addCheck(CheckSignature, StatusPassed, "")
	}

	if err := chain.VerifyBlocks(payload.Chain); err != nil {
		cf := classifyChainError(err)
		res.ChainFailure = &cf
		res.fail(cf.Kind, cf.Index, err)
		res.addCheck(CheckChain, StatusFailed, err.Error())
	} else {
		res.ChainValid = true
		res.addCheck(CheckChain, StatusPassed, fmt.Sprintf("%d blocks", len(payload.Chain)))
	}

	if document != nil {
		res.DocumentChecked = true
		if seal.DocumentHash(document) == payload.DocumentHash {
			res.DocumentMatch = true
			res.addCheck(CheckDocument, StatusPassed, "")
		} else {
			res.fail(KindDocumentMismatch, -1, ErrDocumentMismatch)
			res.addCheck(CheckDocument, StatusFailed, ErrDocumentMismatch.Error())
		}
	} else {
		res.addCheck(CheckDocument, StatusSkipped, "no document supplied")
	}

	stats := ComputeStats(payload.Chain)
	res.Stats = &stats

	if res.SignatureValid && res.ChainValid {
		res.Verdict = VerdictGenuine
	}
	return res
}

func (v *Verifier) checkSignature(dec *token.Decoded) error {
	if dec.Header.Alg != token.Algorithm {
		return fmt.Errorf("%w: unsupported algorithm %q", signer.ErrSignatureInvalid, dec.Header.Alg)
	}
	return signer.VerifySignature([]byte(dec.SigningInput()), dec.Signature, v.pub)
}

func classifyChainError(err error) ChainFailure {
	cf := ChainFailure{Index: 0, Kind: KindBlockHashMismatch}
	var le *chain.LinkError
	if errors.As(err, &le) {
		cf.Index = le.Index
	}
	switch {
	case errors.Is(err, chain.ErrEmptyChain):
		cf.Kind = KindEmptyChain
	case errors.Is(err, chain.ErrInvalidGenesis):
		cf.Kind = KindInvalidGenesis
	case errors.Is(err, chain.ErrChainLinkBroken):
		cf.Kind = KindChainLinkBroken
	}
	return cf
}
