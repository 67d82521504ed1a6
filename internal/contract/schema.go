// ABOUTME: JSON Schema compilation and strict payload validation
// ABOUTME: Violations come back as field paths plus the violated rule

package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled contract for one payload shape.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// Compile builds a Schema from its JSON Schema source. Compilation happens
// at startup; a bad schema is a boot error.
func Compile(name, source string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://ward.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompile is Compile for schemas declared in source.
func MustCompile(name, source string) *Schema {
	s, err := Compile(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema's name as given to Compile.
func (s *Schema) Name() string {
	return s.name
}

// Validate checks raw JSON against the schema. Returns *ValidationError
// listing every violation, or a single root issue if the bytes are not
// valid JSON at all.
func (s *Schema) Validate(raw []byte) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return &ValidationError{
			Schema: s.name,
			Issues: []Issue{{Path: "(root)", Rule: "a JSON object body is required"}},
		}
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{
			Schema: s.name,
			Issues: []Issue{{Path: "(root)", Rule: "body is not valid JSON"}},
		}
	}

	if err := s.compiled.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &ValidationError{Schema: s.name, Issues: collectIssues(ve)}
		}
		return &ValidationError{
			Schema: s.name,
			Issues: []Issue{{Path: "(root)", Rule: "does not satisfy the contract"}},
		}
	}
	return nil
}

// Decode validates raw against the schema and, on success, unmarshals it
// into v.
func (s *Schema) Decode(raw []byte, v interface{}) error {
	if err := s.Validate(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", s.name, err)
	}
	return nil
}

// Issue is a single contract violation.
type Issue struct {
	Path string // dotted field path, "(root)" for the document itself
	Rule string // the constraint that failed
}

func (i Issue) String() string {
	return i.Path + ": " + i.Rule
}

// ValidationError carries every violation found in one payload.
type ValidationError struct {
	Schema string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		parts[i] = iss.String()
	}
	return e.Schema + ": " + strings.Join(parts, "; ")
}

// Detail returns the client-visible description: field paths and rules only.
func (e *ValidationError) Detail() string {
	parts := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		parts[i] = iss.String()
	}
	return strings.Join(parts, "; ")
}

// collectIssues flattens the validator's error tree into leaf issues, which
// carry the precise instance locations.
func collectIssues(ve *jsonschema.ValidationError) []Issue {
	var issues []Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, Issue{
				Path: pointerToPath(e.InstanceLocation),
				Rule: e.Message,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}

// pointerToPath renders a JSON pointer as a dotted field path.
func pointerToPath(ptr string) string {
	if ptr == "" {
		return "(root)"
	}
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}
