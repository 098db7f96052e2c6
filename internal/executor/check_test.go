package executor

import (
	"errors"
	"testing"
	"time"
)

func TestChecks(t *testing.T) {
	body := []byte(`{"baseFare":10,"surgeMultiplier":null,"driver":{"id":"driver_7"},"tags":["a","b"]}`)

	tests := []struct {
		name  string
		check Check
		resp  *Response
		want  bool
	}{
		{"status match", StatusIs(200), &Response{StatusCode: 200}, true},
		{"status mismatch", StatusIs(202), &Response{StatusCode: 200}, false},
		{"field present", FieldPresent("baseFare"), &Response{Body: body}, true},
		{"jsonpath field present", FieldPresent("$.driver.id"), &Response{Body: body}, true},
		{"array index", FieldPresent("$.tags[1]"), &Response{Body: body}, true},
		{"null is absent", FieldPresent("surgeMultiplier"), &Response{Body: body}, false},
		{"missing field", FieldPresent("finalPrice"), &Response{Body: body}, false},
		{"invalid json", FieldPresent("baseFare"), &Response{Body: []byte(`{"baseFare":`)}, false},
		{"equals", FieldEquals("$.driver.id", "driver_7"), &Response{Body: body}, true},
		{"equals number", FieldEquals("baseFare", "10"), &Response{Body: body}, true},
		{"not equals", FieldEquals("driver.id", "driver_8"), &Response{Body: body}, false},
		{"fast", LatencyBelow(100 * time.Millisecond), &Response{Duration: 99 * time.Millisecond}, true},
		{"slow", LatencyBelow(100 * time.Millisecond), &Response{Duration: 100 * time.Millisecond}, false},
		{"fast but failed", LatencyBelow(100 * time.Millisecond), &Response{Duration: time.Millisecond, Err: errors.New("refused")}, false},
		{"nil response", StatusIs(200), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check.Evaluate(tt.resp); got != tt.want {
				t.Errorf("%s.Evaluate() = %v, want %v", tt.check.Name(), got, tt.want)
			}
		})
	}
}

func TestCheckNames(t *testing.T) {
	tests := []struct {
		check Check
		want  string
	}{
		{StatusIs(200), "status is 200"},
		{LatencyBelow(100 * time.Millisecond), "latency < 100ms"},
		{LatencyBelow(1500 * time.Microsecond), "latency < 1.5ms"},
		{FieldPresent("$.baseFare"), "has baseFare"},
		{FieldEquals("status", "accepted"), "status is accepted"},
	}
	for _, tt := range tests {
		if got := tt.check.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func TestMatchesSchema(t *testing.T) {
	check, err := MatchesSchema("price schema", `{
		"type": "object",
		"required": ["baseFare", "finalPrice"],
		"properties": {
			"baseFare": {"type": "number"},
			"finalPrice": {"type": "number", "minimum": 0}
		}
	}`)
	if err != nil {
		t.Fatalf("MatchesSchema() error = %v", err)
	}
	if check.Name() != "price schema" {
		t.Errorf("Name() = %q", check.Name())
	}

	if !check.Evaluate(&Response{Body: []byte(`{"baseFare":10,"finalPrice":12.5}`)}) {
		t.Error("valid body should pass")
	}
	if check.Evaluate(&Response{Body: []byte(`{"baseFare":"ten","finalPrice":12.5}`)}) {
		t.Error("wrong type should fail")
	}
	if check.Evaluate(&Response{Body: []byte(`{"baseFare":10}`)}) {
		t.Error("missing required field should fail")
	}
	if check.Evaluate(&Response{}) {
		t.Error("empty body should fail")
	}

	if _, err := MatchesSchema("", `not json`); err == nil {
		t.Error("expected error for invalid schema")
	}
}

func TestToGJSONPath(t *testing.T) {
	tests := map[string]string{
		"$":                  "@this",
		"$.baseFare":         "baseFare",
		"baseFare":           "baseFare",
		"$.users[0].name":    "users.0.name",
		"$['driver']['id']":  "driver.id",
		`$["driver"]["id"]`:  "driver.id",
		"$[2].value":         "2.value",
	}
	for in, want := range tests {
		if got := toGJSONPath(in); got != want {
			t.Errorf("toGJSONPath(%q) = %q, want %q", in, got, want)
		}
	}
}
