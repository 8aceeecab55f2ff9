package orchestratornode

import (
	"context"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

func RefreshEnvironment(
	ctx context.Context,
	in *DispatchState,
	refresher Refresher,
	pub contractx.Publisher,
	now Clock,
) (*DispatchState, error) {
	ran, err := refresher.RefreshIfNeeded(ctx, in.Entry, in.Environment)
	if err != nil {
		pub.Publish(contractx.ErrorEvent(in.FunctionName, err.Error(), in.Entry.Status(), now()))
		return nil, err
	}
	in.Refreshed = ran
	return in, nil
}
