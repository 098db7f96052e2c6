package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Check is a named boolean predicate over a response.
type Check interface {
	Name() string
	Evaluate(resp *Response) bool
}

type funcCheck struct {
	name string
	fn   func(*Response) bool
}

func (c funcCheck) Name() string { return c.name }

func (c funcCheck) Evaluate(resp *Response) bool {
	if resp == nil {
		return false
	}
	return c.fn(resp)
}

// NewCheck wraps fn as a named check.
func NewCheck(name string, fn func(*Response) bool) Check {
	return funcCheck{name: name, fn: fn}
}

// StatusIs passes when the response status equals code.
func StatusIs(code int) Check {
	return NewCheck(fmt.Sprintf("status is %d", code), func(r *Response) bool {
		return r.StatusCode == code
	})
}

// LatencyBelow passes when the request completed in less than d.
func LatencyBelow(d time.Duration) Check {
	return NewCheck(fmt.Sprintf("latency < %s", formatLatency(d)), func(r *Response) bool {
		return r.Err == nil && r.Duration < d
	})
}

// FieldPresent passes when path resolves to a non-null value in the JSON
// body. Paths may use JSONPath ($.a.b[0]) or gjson (a.b.0) syntax.
func FieldPresent(path string) Check {
	gpath := toGJSONPath(path)
	return NewCheck("has "+displayPath(path), func(r *Response) bool {
		if len(r.Body) == 0 || !gjson.ValidBytes(r.Body) {
			return false
		}
		res := gjson.GetBytes(r.Body, gpath)
		return res.Exists() && res.Type != gjson.Null
	})
}

// FieldEquals passes when path resolves to a value whose string form equals
// want.
func FieldEquals(path, want string) Check {
	gpath := toGJSONPath(path)
	return NewCheck(fmt.Sprintf("%s is %s", displayPath(path), want), func(r *Response) bool {
		if len(r.Body) == 0 {
			return false
		}
		res := gjson.GetBytes(r.Body, gpath)
		return res.Exists() && res.String() == want
	})
}

// MatchesSchema compiles a JSON schema once and returns a check passing when
// the body validates against it.
func MatchesSchema(name, schema string) (Check, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	if name == "" {
		name = "matches schema"
	}
	return NewCheck(name, func(r *Response) bool {
		if len(r.Body) == 0 {
			return false
		}
		var doc interface{}
		if err := json.Unmarshal(r.Body, &doc); err != nil {
			return false
		}
		return compiled.Validate(doc) == nil
	}), nil
}

// toGJSONPath converts a simple JSONPath expression to gjson syntax:
// $.users[0].name -> users.0.name
func toGJSONPath(path string) string {
	if path == "$" {
		return "@this"
	}
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}
	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	return strings.TrimPrefix(path, ".")
}

func displayPath(path string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
}

func formatLatency(d time.Duration) string {
	if d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.String()
}
