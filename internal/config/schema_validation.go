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

	lineageschema "github.com/Paintersrp/lineage/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "config.v1.json"

// ErrSchema marks documents rejected by the embedded JSON schema.
var ErrSchema = errors.New("schema validation failed")

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(lineageschema.ConfigV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks the raw YAML document before it is decoded
// into Config, so unknown keys and wrong types are reported by location.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	// Round trip through JSON so YAML scalars take the shapes the
	// validator expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var vErr *jsonschema.ValidationError
	if !errors.As(err, &vErr) {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}

	issues := leafIssues(vErr)
	sort.Strings(issues)
	return fmt.Errorf("%w:\n  - %s", ErrSchema, strings.Join(issues, "\n  - "))
}

// leafIssues flattens the validation error tree into "location: message"
// lines, keeping only the most specific causes.
func leafIssues(root *jsonschema.ValidationError) []string {
	seen := make(map[string]struct{})
	var issues []string
	stack := []*jsonschema.ValidationError{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(cur.Causes) > 0 {
			stack = append(stack, cur.Causes...)
			continue
		}
		line := instancePath(cur.InstanceLocation) + ": " + cur.Message
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		issues = append(issues, line)
	}
	return issues
}

// instancePath renders a JSON pointer the way keys are written in
// lineage.yaml, e.g. /filters/2 becomes filters[2].
func instancePath(ptr string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.NewReplacer("~1", "/", "~0", "~").Replace(segment)
		if _, err := strconv.Atoi(segment); err == nil {
			b.WriteString("[" + segment + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "config"
	}
	return b.String()
}
