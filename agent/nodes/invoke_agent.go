package orchestratornode

import (
	"context"
	"encoding/json"
	"fmt"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

// InvokeAgent runs the task handler between agent_invocation and exactly one
// of agent_result or agent_error.
func InvokeAgent(
	ctx context.Context,
	in *DispatchState,
	tracker Tracker,
	pub contractx.Publisher,
	now Clock,
) (*DispatchState, error) {
	status := tracker.BeginInvocation(in.Entry)
	pub.Publish(contractx.InvocationEvent(in.FunctionName, in.Arguments, status, now()))

	ctx = contractx.WithEnvironment(ctx, in.Environment)
	result, err := runTask(ctx, in.Entry.Agent(), in.Arguments)
	if err != nil {
		status = tracker.EndInvocation(in.Entry, true)
		pub.Publish(contractx.ErrorEvent(in.FunctionName, err.Error(), status, now()))
		return nil, fmt.Errorf("%w: agent=%s: %w", contractx.ErrAgentTask, in.FunctionName, err)
	}

	status = tracker.EndInvocation(in.Entry, false)
	pub.Publish(contractx.ResultEvent(in.FunctionName, result, status, now()))

	in.Result = result
	in.Status = status
	return in, nil
}

func runTask(ctx context.Context, agent contractx.Agent, args json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	result, err := agent.HandleTask(ctx, args)
	if err != nil {
		return nil, err
	}
	if raw, ok := result.(json.RawMessage); ok && json.Valid(raw) {
		return raw, nil
	}
	out, err = json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return out, nil
}

func FinalizeDispatch(in *DispatchState) (DispatchOutput, error) {
	return DispatchOutput{Result: in.Result, Status: in.Status}, nil
}
