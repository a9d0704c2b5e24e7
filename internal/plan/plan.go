// Package plan parses, validates and stores the architect's task plan.
//
// A plan is an ordered JSON array of {id, name, desc} objects. Agents wrap
// it in prose or markdown, so Extract locates the array first, then parses
// it and validates it against a JSON Schema. Every failure is a
// ValidationError whose message can be fed back to the agent verbatim.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Iron-Ham/vibeflow/internal/errors"
)

// Item is one planned task.
type Item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Desc string `json:"desc"`
}

// Plan is an ordered task list. It is immutable once validated.
type Plan []Item

// IDs returns the task ids in plan order.
func (p Plan) IDs() []string {
	ids := make([]string, len(p))
	for i, it := range p {
		ids[i] = it.ID
	}
	return ids
}

// Schema is the JSON Schema every plan must satisfy. Task ids end up in
// branch, file and tmux session names, so they are limited to characters
// all three accept.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["id", "name", "desc"],
    "properties": {
      "id":   {"type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9_-]+$"},
      "name": {"type": "string", "minLength": 1},
      "desc": {"type": "string", "minLength": 1}
    }
  }
}`

const schemaURL = "vibe_plan.schema.json"

var (
	compiled = mustCompile()

	fencedArray = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")
)

func mustCompile() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, strings.NewReader(Schema)); err != nil {
		panic(fmt.Sprintf("plan schema: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// Extract finds the task array in free-form agent output and validates it.
// A fenced ```json block wins; otherwise the text between the first '['
// and the last ']' is used.
func Extract(text string) (Plan, error) {
	candidate, ok := locate(text)
	if !ok {
		return nil, errors.ErrNoPlanArray
	}
	return Parse([]byte(candidate))
}

func locate(text string) (string, bool) {
	if m := fencedArray.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// Parse decodes and validates a JSON plan document.
func Parse(data []byte) (Plan, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewValidationError("JSON parse error: " + err.Error()).WithCause(errors.ErrPlanInvalid).WithRetryable(true)
	}

	if err := compiled.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, errors.NewValidationError("Schema validation failed: " + err.Error()).WithCause(errors.ErrPlanInvalid).WithRetryable(true)
		}
		problems := flatten(ve, nil)
		msg := "Schema validation failed. Please fix the following errors and regenerate:\n- " + strings.Join(problems, "\n- ")
		return nil, errors.NewValidationError(msg).WithField(leafLocation(ve)).WithCause(errors.ErrPlanInvalid).WithRetryable(true)
	}

	var p Plan
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		return nil, errors.NewValidationError("JSON parse error: " + err.Error()).WithCause(errors.ErrPlanInvalid).WithRetryable(true)
	}

	seen := make(map[string]int, len(p))
	for i, it := range p {
		if j, dup := seen[it.ID]; dup {
			return nil, errors.NewValidationError(
				fmt.Sprintf("Schema validation failed. Task ids must be unique: %q appears at index %d and %d", it.ID, j, i),
			).WithField(fmt.Sprintf("/%d/id", i)).WithValue(it.ID).WithCause(errors.ErrPlanInvalid).WithRetryable(true)
		}
		seen[it.ID] = i
	}
	return p, nil
}

// flatten collects the leaf messages of a schema error tree as
// "location: message" lines.
func flatten(ve *jsonschema.ValidationError, out []string) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(out, loc+": "+ve.Message)
	}
	for _, c := range ve.Causes {
		out = flatten(c, out)
	}
	return out
}

func leafLocation(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return "/"
	}
	return ve.InstanceLocation
}

// Load reads and validates a plan file.
func Load(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Parse(data)
}

// Save writes p as indented JSON, atomically replacing any existing file.
func Save(path string, p Plan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plan directory: %w", err)
		}
	}
	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
