// Package schemavalidation compiles and runs the JSON Schema documents that
// describe the wire payloads the verification core accepts and emits: an
// assembled evidence package, a device-registration request, and a video's
// hash-chain payload.
package schemavalidation

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Named schema identifiers, used both as the embedded file stem and as the
// compiler's resource URL.
const (
	EvidencePackage    = "evidence-package-v1"
	DeviceRegistration = "device-registration-v1"
	HashChain          = "hash-chain-v1"
)

// Validator wraps a single compiled JSON Schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile loads and compiles one of the embedded schemas by name (one of
// the constants above).
func Compile(name string) (*Validator, error) {
	data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("read embedded schema %s: %w", name, err)
	}
	return CompileBytes(name, data)
}

// CompileBytes compiles a schema document already in memory, tagged with a
// resource name used for compiler error messages.
func CompileBytes(name string, schemaJSON []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks a decoded JSON instance (e.g. the result of
// json.Unmarshal into `any`) against the schema.
func (v *Validator) Validate(instance any) error {
	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateJSON decodes raw JSON bytes and validates them in one step.
func (v *Validator) ValidateJSON(raw []byte) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("unmarshal instance: %w", err)
	}
	return v.Validate(instance)
}
