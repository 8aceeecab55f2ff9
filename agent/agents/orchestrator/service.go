package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	registryx "github.com/tanpawarit/voice-agent-orchestrator/agent/agents/registry"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	eventbusx "github.com/tanpawarit/voice-agent-orchestrator/agent/eventbus"
	nodex "github.com/tanpawarit/voice-agent-orchestrator/agent/nodes"
	schedulerx "github.com/tanpawarit/voice-agent-orchestrator/agent/scheduler"
)

type Config struct {
	// Environment is merged under the per-call environment of every dispatch.
	Environment contractx.Environment
}

// Orchestrator owns the agent registry, the event bus, the refresh scheduler,
// and the function-call dispatcher built on top of them.
type Orchestrator struct {
	registry  *registryx.Registry
	bus       *eventbusx.Bus
	scheduler *schedulerx.Scheduler

	graphRunner compose.Runnable[nodex.DispatchInput, nodex.DispatchOutput]

	env contractx.Environment
	now func() time.Time
	log zerolog.Logger
}

func New(
	registry *registryx.Registry,
	bus *eventbusx.Bus,
	scheduler *schedulerx.Scheduler,
	cfg Config,
) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("agent registry is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if scheduler == nil {
		return nil, errors.New("refresh scheduler is required")
	}

	env := cfg.Environment
	if env == nil {
		env = contractx.Environment{}
	}

	o := &Orchestrator{
		registry:  registry,
		bus:       bus,
		scheduler: scheduler,
		env:       env,
		now:       time.Now,
		log:       log.Logger.With().Str("component", "dispatcher").Logger(),
	}

	graphRunner, err := o.compileDispatchGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// NewDefault wires a fresh Registry, Bus, and Scheduler in that order.
func NewDefault(cfg Config, busOpts ...eventbusx.Option) (*Orchestrator, error) {
	bus := eventbusx.New(busOpts...)
	registry := registryx.New(bus)
	scheduler := schedulerx.New(registry, schedulerx.WithEnvironment(cfg.Environment))
	registry.SetTimers(scheduler)
	return New(registry, bus, scheduler, cfg)
}

// Dispatch routes one function call to its agent. The error wraps one of
// ErrUnknownAgent, ErrEnvironmentRefresh, ErrAgentTask or ErrMalformedMessage.
func (o *Orchestrator) Dispatch(ctx context.Context, functionName string, args json.RawMessage) (json.RawMessage, error) {
	env := o.env
	if callEnv, ok := contractx.EnvironmentFrom(ctx); ok {
		env = env.Merge(callEnv)
	}

	out, err := o.graphRunner.Invoke(ctx, nodex.DispatchInput{
		FunctionName: functionName,
		Arguments:    args,
		Environment:  env,
	})
	if err != nil {
		o.log.Warn().Err(err).Str("agent", functionName).Msg("dispatch failed")
		return nil, err
	}
	o.log.Debug().Str("agent", functionName).Str("status", string(out.Status)).Msg("dispatch completed")
	return out.Result, nil
}

func (o *Orchestrator) Register(agent contractx.Agent) error {
	return o.registry.Register(agent)
}

func (o *Orchestrator) Deregister(name string) {
	o.registry.Deregister(name)
}

func (o *Orchestrator) List() []contractx.AgentInfo {
	return o.registry.List()
}

func (o *Orchestrator) Status(name string) (contractx.Status, bool) {
	return o.registry.Status(name)
}

func (o *Orchestrator) SetStatus(name string, status contractx.Status) error {
	return o.registry.SetStatus(name, status)
}

func (o *Orchestrator) Publish(ev contractx.Event) {
	o.bus.Publish(ev)
}

// Subscribe attaches an observer. With fullList the observer first receives
// agent_full_list.
func (o *Orchestrator) Subscribe(conn eventbusx.Conn, fullList bool) func() {
	if fullList {
		return o.bus.Subscribe(conn, contractx.FullListEvent(o.registry.List()))
	}
	return o.bus.Subscribe(conn)
}

func (o *Orchestrator) AddSink(sink eventbusx.Sink) func() {
	return o.bus.AddSink(sink)
}

func (o *Orchestrator) Start() {
	o.scheduler.Start()
}

// Close stops refresh timers and detaches every observer.
func (o *Orchestrator) Close() {
	o.registry.Close()
	o.scheduler.Stop()
	o.bus.Close()
}
