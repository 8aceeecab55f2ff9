package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/voice-agent-orchestrator/agent/nodes"
)

func (o *Orchestrator) compileDispatchGraph(
	ctx context.Context,
) (compose.Runnable[nodex.DispatchInput, nodex.DispatchOutput], error) {
	graph := compose.NewGraph[nodex.DispatchInput, nodex.DispatchOutput]()

	if err := graph.AddLambdaNode("validate_dispatch",
		compose.InvokableLambda(func(ctx context.Context, in nodex.DispatchInput) (*nodex.DispatchState, error) {
			return nodex.ValidateDispatch(in, o.bus, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_dispatch: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_agent",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.DispatchState) (*nodex.DispatchState, error) {
			return nodex.ResolveAgent(in, o.registry, o.bus, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_agent: %w", err)
	}

	if err := graph.AddLambdaNode("refresh_environment",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.DispatchState) (*nodex.DispatchState, error) {
			return nodex.RefreshEnvironment(ctx, in, o.scheduler, o.bus, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node refresh_environment: %w", err)
	}

	if err := graph.AddLambdaNode("invoke_agent",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.DispatchState) (*nodex.DispatchState, error) {
			return nodex.InvokeAgent(ctx, in, o.registry, o.bus, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node invoke_agent: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_dispatch",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.DispatchState) (nodex.DispatchOutput, error) {
			return nodex.FinalizeDispatch(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_dispatch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_dispatch"},
		{"validate_dispatch", "resolve_agent"},
		{"resolve_agent", "refresh_environment"},
		{"refresh_environment", "invoke_agent"},
		{"invoke_agent", "finalize_dispatch"},
		{"finalize_dispatch", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.dispatch"))
	if err != nil {
		return nil, fmt.Errorf("compile dispatch graph: %w", err)
	}
	return runner, nil
}
