// Package token frames a signed payload as a three-segment token:
//
//	base64url(header) "." base64url(payload) "." base64url(signature)
//
// Padding is stripped from every segment. The signature always covers the
// encoded header and payload segments exactly as transmitted, never a
// re-serialization of the decoded JSON.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrMalformedToken = errors.New("token: malformed token")
	ErrDecode         = errors.New("token: decode failed")
)

// Algorithm is the only signature algorithm tokens carry.
const Algorithm = "RS256"

// Header is the first token segment.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// DefaultHeader returns the header every humansign token is issued with.
func DefaultHeader() Header {
	return Header{Alg: Algorithm, Typ: "JWT"}
}

// The zero Token and a strict Parser only supply base64url segment helpers.
var (
	segmentEncoder = &jwt.Token{}
	segmentDecoder = jwt.NewParser(jwt.WithStrictDecoding())
)

// EncodeSegment base64url-encodes b without padding.
func EncodeSegment(b []byte) string {
	return segmentEncoder.EncodeSegment(b)
}

// DecodeSegment reverses EncodeSegment.
func DecodeSegment(s string) ([]byte, error) {
	b, err := segmentDecoder.DecodeSegment(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}

// SigningInput joins the encoded header and payload segments.
func SigningInput(encodedHeader, encodedPayload string) string {
	return encodedHeader + "." + encodedPayload
}

// EncodeSegments JSON-encodes header and payload and returns both
// base64url segments.
func EncodeSegments(header, payload any) (string, string, error) {
	h, err := json.Marshal(header)
	if err != nil {
		return "", "", fmt.Errorf("token: encode header: %w", err)
	}
	p, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("token: encode payload: %w", err)
	}
	return EncodeSegment(h), EncodeSegment(p), nil
}

// Encode builds a complete token from header, payload and signature bytes.
func Encode(header, payload any, signature []byte) (string, error) {
	h, p, err := EncodeSegments(header, payload)
	if err != nil {
		return "", err
	}
	return Assemble(h, p, signature), nil
}

// Assemble joins already-encoded segments with the signature.
func Assemble(encodedHeader, encodedPayload string, signature []byte) string {
	return SigningInput(encodedHeader, encodedPayload) + "." + EncodeSegment(signature)
}

// Decoded is a parsed token. RawHeader and RawPayload are the segments as
// received and are the only input to SigningInput.
type Decoded struct {
	RawHeader    string
	RawPayload   string
	RawSignature string

	Header      Header
	PayloadJSON json.RawMessage
	Signature   []byte
}

// SigningInput returns the bytes the signature must cover.
func (d *Decoded) SigningInput() string {
	return SigningInput(d.RawHeader, d.RawPayload)
}

// UnmarshalPayload decodes the payload JSON into v.
func (d *Decoded) UnmarshalPayload(v any) error {
	if err := json.Unmarshal(d.PayloadJSON, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrDecode, err)
	}
	return nil
}

// Decode splits and decodes a token. It fails with ErrMalformedToken when
// the token does not have exactly three segments and with ErrDecode when a
// segment is not base64url or the header or payload is not JSON.
func Decode(tok string) (*Decoded, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	headerJSON, err := DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	payloadJSON, err := DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	sig, err := DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: header is not valid JSON: %v", ErrDecode, err)
	}
	if !json.Valid(payloadJSON) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrDecode)
	}

	return &Decoded{
		RawHeader:    parts[0],
		RawPayload:   parts[1],
		RawSignature: parts[2],
		Header:       header,
		PayloadJSON:  json.RawMessage(payloadJSON),
		Signature:    sig,
	}, nil
}
