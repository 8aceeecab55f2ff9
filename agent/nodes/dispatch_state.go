package orchestratornode

import (
	"context"
	"encoding/json"
	"time"

	registryx "github.com/tanpawarit/voice-agent-orchestrator/agent/agents/registry"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

type DispatchInput struct {
	FunctionName string
	Arguments    json.RawMessage
	Environment  contractx.Environment
}

type DispatchOutput struct {
	Result json.RawMessage
	Status contractx.Status
}

type DispatchState struct {
	FunctionName string
	Arguments    json.RawMessage
	Environment  contractx.Environment

	Entry     *registryx.Entry
	Refreshed bool

	Result json.RawMessage
	Status contractx.Status
}

// Resolver finds the registry entry for a function name.
type Resolver interface {
	Lookup(name string) (*registryx.Entry, bool)
}

// Refresher runs the pre-invoke environment refresh cycle.
type Refresher interface {
	RefreshIfNeeded(ctx context.Context, e *registryx.Entry, env contractx.Environment) (bool, error)
}

// Tracker records the ACTIVE window of a dispatch.
type Tracker interface {
	BeginInvocation(e *registryx.Entry) contractx.Status
	EndInvocation(e *registryx.Entry, failed bool) contractx.Status
}

type Clock func() time.Time
