package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	statex "github.com/tanpawarit/voice-agent-orchestrator/agent/state"
	realtimex "github.com/tanpawarit/voice-agent-orchestrator/pkg/realtime"
)

const envCallID = "call_id"

// runFunctionCall dispatches one model function call and feeds the outcome
// back to the session. It outlives the call; a late result is only logged.
func (b *Bridge) runFunctionCall(ctx context.Context, c *call, fc realtimex.OutputItem, l zerolog.Logger) {
	l = l.With().Str("agent", fc.Name).Str("function_call_id", fc.CallID).Logger()

	env := contractx.Environment{envCallID: c.id}
	if caller := c.caller(); caller != "" {
		env[contractx.EnvCaller] = caller
	}
	dctx := contractx.WithEnvironment(context.WithoutCancel(ctx), env)

	record := statex.FunctionCall{Name: fc.Name, CallID: fc.CallID, At: b.now()}

	var output json.RawMessage
	args, err := ParseArguments(fc.Arguments)
	if err != nil {
		err = fmt.Errorf("%w: arguments for %s: %v", contractx.ErrMalformedMessage, fc.Name, err)
		b.pub.Publish(contractx.ErrorEvent(fc.Name, err.Error(), "", b.now()))
	} else {
		record.Arguments = args
		output, err = b.dispatcher.Dispatch(dctx, fc.Name, args)
	}
	if err != nil {
		l.Warn().Err(err).Msg("function call failed")
		record.Error = err.Error()
		output = FailurePayload(err)
	}
	record.Output = output
	c.addFunctionCall(record)

	if c.isClosed() {
		l.Info().Msg("call closed before function result could be delivered")
		return
	}
	if err := c.ai.AddFunctionCallOutput(fc.CallID, string(output)); err != nil {
		l.Warn().Err(err).Msg("deliver function result")
		return
	}
	if err := c.ai.CreateResponse(); err != nil {
		l.Warn().Err(err).Msg("resume response after function result")
	}
}

// ParseArguments accepts the model's argument string, repairing near-JSON.
func ParseArguments(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}"), nil
	}

	var decoded any
	err := json.Unmarshal([]byte(raw), &decoded)
	if err == nil {
		return json.RawMessage(raw), nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return nil, err
	}

	fixed, rerr := jsonrepair.JSONRepair(raw)
	if rerr != nil {
		return nil, fmt.Errorf("repair arguments: %w", rerr)
	}
	if !json.Valid([]byte(fixed)) {
		return nil, err
	}
	return json.RawMessage(fixed), nil
}

// FailurePayload is the function output sent to the model when a call fails.
func FailurePayload(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   err.Error(),
	})
	return data
}
