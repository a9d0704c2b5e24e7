package ai

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Iron-Ham/vibeflow/internal/errors"
)

// ErrNoResult means the agent's output held no JSON object.
var ErrNoResult = errors.New("agent returned no structured result")

// Result is a structured answer the agent wrote to its output file, such
// as {"status": "PASS", "message": "..."}.
type Result struct {
	raw gjson.Result
}

// ParseResult reads a JSON object from agent output. Agents sometimes wrap
// the object in prose or a code fence, so when the whole text is not valid
// JSON the span from the first '{' to the last '}' is tried.
func ParseResult(text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrNoResult
	}
	if !gjson.Valid(text) {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start == -1 || end <= start || !gjson.Valid(text[start:end+1]) {
			return Result{}, ErrNoResult
		}
		text = text[start : end+1]
	}
	raw := gjson.Parse(text)
	if !raw.IsObject() {
		return Result{}, ErrNoResult
	}
	return Result{raw: raw}, nil
}

// Status returns the upper-cased "status" field.
func (r Result) Status() string {
	return strings.ToUpper(strings.TrimSpace(r.raw.Get("status").String()))
}

// Message returns the "message" field.
func (r Result) Message() string {
	return strings.TrimSpace(r.raw.Get("message").String())
}

// Get returns the string value at a gjson path, or "".
func (r Result) Get(path string) string {
	return strings.TrimSpace(r.raw.Get(path).String())
}

// Raw returns the JSON text of the result.
func (r Result) Raw() string {
	return r.raw.Raw
}
