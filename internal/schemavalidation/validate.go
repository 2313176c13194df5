// Package schemavalidation checks token payloads against the published JSON
// schema before any cryptographic work is done on them.
package schemavalidation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PayloadSchemaURL is the $id of the embedded payload schema.
const PayloadSchemaURL = "https://humansign.dev/schema/payload-v1.schema.json"

// ErrSchema wraps every schema violation.
var ErrSchema = errors.New("schemavalidation: payload does not match schema")

//go:embed schemas/payload-v1.schema.json
var payloadSchema []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// PayloadSchema returns the compiled payload schema.
func PayloadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(PayloadSchemaURL, bytes.NewReader(payloadSchema)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(PayloadSchemaURL)
	})
	return compiled, compileErr
}

// RawPayloadSchema returns the schema document as embedded.
func RawPayloadSchema() []byte {
	return append([]byte(nil), payloadSchema...)
}

// ValidatePayload decodes payloadJSON and validates it. Numbers are kept as
// json.Number so fractional timestamps are caught as non-integers.
func ValidatePayload(payloadJSON []byte) error {
	schema, err := PayloadSchema()
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(payloadJSON))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
