package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/polisai/polis-triage/pkg/domain"
)

// Shape is a named JSON Schema a model response must satisfy.
type Shape struct {
	name   string
	schema *jsonschema.Schema
}

// NewShape compiles schema under name.
func NewShape(name, schema string) (*Shape, error) {
	c := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := c.AddResource(resource, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return &Shape{name: name, schema: compiled}, nil
}

// MustShape is NewShape for package-level shapes. It panics on a bad schema.
func MustShape(name, schema string) *Shape {
	s, err := NewShape(name, schema)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the shape name used in validation errors.
func (s *Shape) Name() string { return s.name }

// Decode validates raw against the shape and unmarshals it into v. The whole
// response must be one JSON document; surrounding whitespace is the only
// thing tolerated.
func (s *Shape) Decode(raw string, v any) error {
	payload := strings.TrimSpace(raw)
	if payload == "" {
		return &domain.ValidationError{Shape: s.name, Err: fmt.Errorf("empty response")}
	}
	if !json.Valid([]byte(payload)) {
		return &domain.ValidationError{Shape: s.name, Err: fmt.Errorf("response is not a JSON document")}
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
	if err != nil {
		return &domain.ValidationError{Shape: s.name, Err: fmt.Errorf("parse response: %w", err)}
	}
	if err := s.schema.Validate(doc); err != nil {
		return &domain.ValidationError{Shape: s.name, Err: err}
	}

	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return &domain.ValidationError{Shape: s.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
