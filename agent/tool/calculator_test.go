package tool

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		expr string
		want float64
	}{
		{expr: "2 + 3 * (4 - 1)", want: 11},
		{expr: "-2^2", want: -4},
		{expr: "2^3^2", want: 512},
		{expr: "2^-1", want: 0.5},
		{expr: "10 % 4", want: 2},
		{expr: "((1.5))", want: 1.5},
		{expr: "- -3", want: 3},
		{expr: "7 / 2", want: 3.5},
		{expr: "2 ** 10", want: 1024},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.expr)
		if err != nil {
			t.Fatalf("Evaluate(%q): unexpected error: %v", tc.expr, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluateRejects(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "1 +", "(1 + 2", "1 / 0", "5 % 0", "abs(1)", "1 2", "x + 1", `"text"`, "1 > 0", strings.Repeat("1+", 200) + "1"} {
		if _, err := Evaluate(expr); err == nil {
			t.Fatalf("Evaluate(%q): expected error", expr)
		}
	}
}

func TestCalculatorHandleTask(t *testing.T) {
	t.Parallel()

	c := NewCalculator()
	out, err := c.HandleTask(context.Background(), json.RawMessage(`{"expression":" 6 * 7 "}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, ok := out.(CalculatorResult)
	if !ok {
		t.Fatalf("unexpected result type: %T", out)
	}
	if res.Expression != "6 * 7" || res.Result != 42 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if c.ContextInfo() != "Evaluated 6 * 7 = 42." {
		t.Fatalf("unexpected context info: %q", c.ContextInfo())
	}
}

func TestCalculatorValidatesArguments(t *testing.T) {
	t.Parallel()

	c := NewCalculator()
	for _, args := range []string{`{}`, `{"expression":3}`, `{"expression":"1/0"}`} {
		_, err := c.HandleTask(context.Background(), json.RawMessage(args))
		if !errors.Is(err, contractx.ErrValidation) {
			t.Fatalf("args %s: expected validation error, got %v", args, err)
		}
	}
}

func TestCalculatorSchema(t *testing.T) {
	t.Parallel()

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(NewCalculator().ParametersSchema(), &schema); err != nil {
		t.Fatalf("schema is not valid json: %v", err)
	}
	if schema.Type != "object" {
		t.Fatalf("unexpected schema type: %q", schema.Type)
	}
	if _, ok := schema.Properties["expression"]; !ok {
		t.Fatal("expected expression property")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "expression" {
		t.Fatalf("unexpected required list: %v", schema.Required)
	}
}
