// Package seal turns a finalized event chain and a document into a signed
// token.
package seal

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"humansign/internal/chain"
	"humansign/internal/signer"
	"humansign/internal/token"
)

// ErrEmptyChain is returned when there is nothing to seal.
var ErrEmptyChain = errors.New("seal: chain has no blocks")

// Metadata identifies who produced a chain and in which session.
type Metadata struct {
	Subject      string `json:"subject"`
	SessionIndex int    `json:"sessionIndex"`
	Rep          int    `json:"rep"`
}

// Payload is the signed token body.
type Payload struct {
	Subject      string        `json:"subject"`
	SessionIndex int           `json:"sessionIndex"`
	Rep          int           `json:"rep"`
	DocumentHash string        `json:"document_hash"`
	Chain        []chain.Block `json:"chain"`
	IssuedAt     int64         `json:"iat"`
}

// Result describes a completed seal.
type Result struct {
	Token        string    `json:"token"`
	EventCount   int       `json:"event_count"`
	BlockCount   int       `json:"block_count"`
	DocumentHash string    `json:"document_hash"`
	IssuedAt     time.Time `json:"issued_at"`
}

// DocumentHash returns the lowercase hex SHA-256 of content.
func DocumentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Sealer signs payloads with a fixed key.
type Sealer struct {
	key *rsa.PrivateKey
	now func() time.Time
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithClock overrides the clock used for the iat claim.
func WithClock(now func() time.Time) Option {
	return func(s *Sealer) { s.now = now }
}

// NewSealer returns a Sealer for key.
func NewSealer(key *rsa.PrivateKey, opts ...Option) *Sealer {
	s := &Sealer{key: key, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seal binds blocks to document and signs the result. The blocks are
// copied into the payload; neither input is modified.
func (s *Sealer) Seal(meta Metadata, blocks []chain.Block, document []byte) (*Result, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyChain
	}

	issued := s.now().Truncate(time.Second)
	payload := Payload{
		Subject:      meta.Subject,
		SessionIndex: meta.SessionIndex,
		Rep:          meta.Rep,
		DocumentHash: DocumentHash(document),
		Chain:        copyBlocks(blocks),
		IssuedAt:     issued.Unix(),
	}

	h, p, err := token.EncodeSegments(token.DefaultHeader(), payload)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	sig, err := signer.Sign([]byte(token.SigningInput(h, p)), s.key)
	if err != nil {
		return nil, err
	}

	events := 0
	for _, b := range blocks {
		events += len(b.Events)
	}
	return &Result{
		Token:        token.Assemble(h, p, sig),
		EventCount:   events,
		BlockCount:   len(blocks),
		DocumentHash: payload.DocumentHash,
		IssuedAt:     issued,
	}, nil
}

func copyBlocks(blocks []chain.Block) []chain.Block {
	out := make([]chain.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b
		out[i].Events = append([]chain.Event(nil), b.Events...)
	}
	return out
}
