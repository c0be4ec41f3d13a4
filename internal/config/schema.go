package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	minicarsschema "github.com/Paintersrp/minicars/schema"
)

const schemaResource = "config.v1.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaResource, bytes.NewReader(minicarsschema.ConfigV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema: %w", err)
	}
	schema, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// Violation is one schema rule broken by a configuration document.
type Violation struct {
	Field   string
	Message string
}

// SchemaError lists every violation found in a document.
type SchemaError struct {
	Violations []Violation
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema validation failed:")
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  - %s: %s", v.Field, v.Message)
	}
	return b.String()
}

// checkSchema validates the raw YAML document before it is decoded into
// Config, so unknown keys and type mismatches are reported by field path.
func checkSchema(doc map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	instance, err := jsonInstance(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema check: %w", err)
	}
	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return &SchemaError{Violations: collectViolations(verr)}
}

// jsonInstance converts YAML-decoded values into the shapes the validator
// expects: string keys and json.Number for numbers.
func jsonInstance(doc map[string]any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// collectViolations flattens the validator's error tree to its leaves, which
// carry the specific messages.
func collectViolations(root *jsonschema.ValidationError) []Violation {
	seen := make(map[Violation]struct{})
	var out []Violation
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		v := Violation{Field: instanceField(e.InstanceLocation), Message: e.Message}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	walk(root)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// instanceField turns a JSON pointer such as /backend/markers/0 into
// backend.markers[0].
func instanceField(pointer string) string {
	var parts []string
	for _, segment := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(segment); err == nil && len(parts) > 0 {
			parts[len(parts)-1] += "[" + segment + "]"
			continue
		}
		parts = append(parts, segment)
	}
	if len(parts) == 0 {
		return "(root)"
	}
	return fieldPath(parts...)
}
