package verify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxArtifactBytes bounds the size of an uploaded artifact.
const DefaultMaxArtifactBytes = 5 << 20

// Artifact errors.
var (
	ErrArtifactEmpty    = errors.New("verify: artifact is empty")
	ErrArtifactTooLarge = errors.New("verify: artifact exceeds size limit")
	ErrArtifactFormat   = errors.New("verify: invalid artifact format")
)

// artifactEnvelope is the JSON wrapper some clients save tokens in.
type artifactEnvelope struct {
	JWS string `json:"jws"`
}

// ParseArtifact extracts the token from an artifact file. The file holds
// either a bare three-segment token or a JSON object {"jws": "<token>"}.
// Surrounding whitespace is ignored. maxBytes <= 0 disables the size check.
func ParseArtifact(data []byte, maxBytes int64) (string, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrArtifactTooLarge, len(data), maxBytes)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: artifact must be UTF-8", ErrArtifactFormat)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrArtifactEmpty
	}
	if strings.Count(text, ".") == 2 && !strings.HasPrefix(text, "{") {
		return text, nil
	}

	var env artifactEnvelope
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	if err := dec.Decode(&env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactFormat, err)
	}
	if env.JWS == "" {
		return "", fmt.Errorf("%w: missing jws field", ErrArtifactFormat)
	}
	return strings.TrimSpace(env.JWS), nil
}
