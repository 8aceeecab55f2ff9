package orchestratornode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

// ValidateDispatch normalizes the arguments. Invalid JSON publishes
// agent_error before any agent is looked up.
func ValidateDispatch(in DispatchInput, pub contractx.Publisher, now Clock) (*DispatchState, error) {
	name := strings.TrimSpace(in.FunctionName)
	args := bytes.TrimSpace(in.Arguments)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = []byte("{}")
	}
	if !json.Valid(args) {
		err := fmt.Errorf("%w: arguments for %q are not valid JSON", contractx.ErrMalformedMessage, name)
		pub.Publish(contractx.ErrorEvent(name, err.Error(), "", now()))
		return nil, err
	}

	env := in.Environment
	if env == nil {
		env = contractx.Environment{}
	}
	return &DispatchState{
		FunctionName: name,
		Arguments:    json.RawMessage(args),
		Environment:  env,
	}, nil
}

// ResolveAgent looks the function name up. An unknown name publishes
// agent_error and leaves every status untouched.
func ResolveAgent(in *DispatchState, agents Resolver, pub contractx.Publisher, now Clock) (*DispatchState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: dispatch state is nil", contractx.ErrValidation)
	}

	entry, ok := agents.Lookup(in.FunctionName)
	if !ok {
		msg := fmt.Sprintf("No registered agent found for functionName = %s", in.FunctionName)
		pub.Publish(contractx.ErrorEvent(in.FunctionName, msg, "", now()))
		return nil, fmt.Errorf("%w: functionName=%s", contractx.ErrUnknownAgent, in.FunctionName)
	}

	in.Entry = entry
	return in, nil
}
