package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/spec.schema.json
var specSchema []byte

//go:embed schema/config.schema.json
var configSchema []byte

// ErrInvalid wraps every schema violation.
var ErrInvalid = errors.New("schema validation failed")

// ValidateSpecJSON validates a build spec, already converted to JSON.
func ValidateSpecJSON(data []byte) error {
	return ValidateAgainstSchema("spec.schema.json", specSchema, data, "")
}

// ValidateConfigJSON validates the global tool configuration.
func ValidateConfigJSON(data []byte) error {
	return ValidateAgainstSchema("config.schema.json", configSchema, data, "")
}

// ValidateAgainstSchema compiles schema under name and validates data
// against it, or against the sub-schema at ref (e.g. "#/$defs/version").
func ValidateAgainstSchema(name string, schema, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}
	sch, err := compiler.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("compiling schema %s: %w", name, err)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", ErrInvalid, describe(ve))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// describe flattens the deepest causes into one line per violation.
func describe(ve *jsonschema.ValidationError) string {
	var buf bytes.Buffer
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			if buf.Len() > 0 {
				buf.WriteString("; ")
			}
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			fmt.Fprintf(&buf, "%s: %s", loc, e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return buf.String()
}
