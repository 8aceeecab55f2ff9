package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

const (
	NameCalculator = "calculator"

	maxExpressionLen = 256
)

type CalculatorArgs struct {
	Expression string `json:"expression" jsonschema:"arithmetic expression using + - * / % ^ and parentheses, for example (2+3)*4"`
}

type CalculatorResult struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

type Calculator struct {
	spec     argSpec
	activity *activity
}

var _ contractx.Agent = (*Calculator)(nil)

func NewCalculator() *Calculator {
	return &Calculator{
		spec:     mustArgSpec[CalculatorArgs](nil),
		activity: newActivity(),
	}
}

func (c *Calculator) Name() string { return NameCalculator }

func (c *Calculator) Description() string {
	return "Evaluates an arithmetic expression and returns the numeric result."
}

func (c *Calculator) ParametersSchema() json.RawMessage { return c.spec.raw }

func (c *Calculator) ContextInfo() string { return c.activity.get() }

func (c *Calculator) HandleTask(_ context.Context, args json.RawMessage) (any, error) {
	in, err := decodeArgs[CalculatorArgs](c.spec, args)
	if err != nil {
		return nil, err
	}

	src := strings.TrimSpace(in.Expression)
	value, err := Evaluate(src)
	if err != nil {
		c.activity.set("Could not evaluate %q.", src)
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, err)
	}

	c.activity.set("Evaluated %s = %s.", src, strconv.FormatFloat(value, 'g', -1, 64))
	return CalculatorResult{Expression: src, Result: value}, nil
}

// Evaluate computes an arithmetic expression. Names, builtins and
// non-numeric results are rejected. ^ is right associative and binds
// tighter than unary minus.
func Evaluate(src string) (float64, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return 0, errors.New("expression is empty")
	}
	if len(src) > maxExpressionLen {
		return 0, fmt.Errorf("expression is longer than %d characters", maxExpressionLen)
	}

	env := map[string]any{}
	program, err := expr.Compile(src, expr.Env(env), expr.DisableAllBuiltins(), expr.AsFloat64())
	if err != nil {
		return 0, fmt.Errorf("compile expression: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return 0, fmt.Errorf("evaluate expression: %w", err)
	}

	value, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("expression result is %T, not a number", out)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, errors.New("result is not a finite number")
	}
	return value, nil
}
