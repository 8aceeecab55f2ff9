package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	registryx "github.com/tanpawarit/voice-agent-orchestrator/agent/agents/registry"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

type refreshingAgent struct {
	name     string
	interval time.Duration
	should   bool
	err      error

	calls   atomic.Int32
	mu      sync.Mutex
	lastEnv contractx.Environment
}

func (a *refreshingAgent) Name() string                      { return a.name }
func (a *refreshingAgent) Description() string               { return "refreshing" }
func (a *refreshingAgent) ParametersSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (a *refreshingAgent) ContextInfo() string               { return "" }
func (a *refreshingAgent) HandleTask(context.Context, json.RawMessage) (any, error) {
	return nil, nil
}
func (a *refreshingAgent) RefreshInterval() time.Duration                { return a.interval }
func (a *refreshingAgent) ShouldRefreshEnvironment(context.Context) bool { return a.should }
func (a *refreshingAgent) RefreshEnvironment(_ context.Context, env contractx.Environment) error {
	a.calls.Add(1)
	a.mu.Lock()
	a.lastEnv = env
	a.mu.Unlock()
	return a.err
}

type plainAgent struct{}

func (plainAgent) Name() string                      { return "plain" }
func (plainAgent) Description() string               { return "plain" }
func (plainAgent) ParametersSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (plainAgent) ContextInfo() string               { return "" }
func (plainAgent) HandleTask(context.Context, json.RawMessage) (any, error) {
	return nil, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []contractx.Event
}

func (p *recordingPublisher) Publish(ev contractx.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) statuses() []contractx.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []contractx.Status
	for _, ev := range p.events {
		if ev.Type == contractx.EventAgentStatusChanged {
			out = append(out, ev.Status)
		}
	}
	return out
}

func setup(t *testing.T, agent contractx.Agent, opts ...Option) (*registryx.Registry, *Scheduler, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	reg := registryx.New(pub)
	sched := New(reg, opts...)
	reg.SetTimers(sched)
	if err := reg.Register(agent); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return reg, sched, pub
}

func TestArmOnlyForPositiveInterval(t *testing.T) {
	t.Parallel()

	sched := New(registryx.New(nil))
	if _, ok := sched.Arm(plainAgent{}); ok {
		t.Fatal("Arm() armed an agent without an interval")
	}
	if _, ok := sched.Arm(&refreshingAgent{name: "zero"}); ok {
		t.Fatal("Arm() armed an agent with a zero interval")
	}

	cancel, ok := sched.Arm(&refreshingAgent{name: "price", interval: time.Minute})
	if !ok {
		t.Fatal("Arm() did not arm a positive interval")
	}
	if sched.Armed() != 1 {
		t.Fatalf("Armed() = %d, want 1", sched.Armed())
	}
	cancel()
	if sched.Armed() != 0 {
		t.Fatalf("Armed() after cancel = %d, want 0", sched.Armed())
	}
}

func TestDeregisterCancelsTimer(t *testing.T) {
	t.Parallel()

	reg, sched, _ := setup(t, &refreshingAgent{name: "price", interval: time.Minute})
	if sched.Armed() != 1 {
		t.Fatalf("Armed() = %d, want 1", sched.Armed())
	}
	reg.Deregister("price")
	if sched.Armed() != 0 {
		t.Fatalf("Armed() = %d, want 0 after deregister", sched.Armed())
	}
}

func TestTickRefreshesIdleAgent(t *testing.T) {
	t.Parallel()

	agent := &refreshingAgent{name: "price", interval: time.Minute, should: true}
	env := contractx.Environment{"network": "mainnet"}
	reg, sched, pub := setup(t, agent, WithEnvironment(env))

	ran, err := sched.Tick(context.Background(), "price")
	if err != nil || !ran {
		t.Fatalf("Tick() = %v, %v, want true, nil", ran, err)
	}
	if agent.calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", agent.calls.Load())
	}
	if agent.lastEnv.String("network") != "mainnet" {
		t.Fatalf("refresh env = %v, want default environment", agent.lastEnv)
	}
	if status, _ := reg.Status("price"); status != contractx.StatusIdle {
		t.Fatalf("status = %q, want IDLE", status)
	}
	got := pub.statuses()
	if len(got) != 2 || got[0] != contractx.StatusUpdating || got[1] != contractx.StatusIdle {
		t.Fatalf("status events = %v, want [UPDATING IDLE]", got)
	}
}

func TestTickSkipsActiveAgent(t *testing.T) {
	t.Parallel()

	agent := &refreshingAgent{name: "price", interval: time.Minute, should: true}
	reg, sched, _ := setup(t, agent)
	e, _ := reg.Lookup("price")
	reg.BeginInvocation(e)

	ran, err := sched.Tick(context.Background(), "price")
	if err != nil || ran {
		t.Fatalf("Tick() = %v, %v, want false, nil", ran, err)
	}
	if agent.calls.Load() != 0 {
		t.Fatal("refresh ran while the agent was ACTIVE")
	}
}

func TestTickSkipsWhenAgentDeclines(t *testing.T) {
	t.Parallel()

	agent := &refreshingAgent{name: "price", interval: time.Minute, should: false}
	_, sched, pub := setup(t, agent)

	if ran, _ := sched.Tick(context.Background(), "price"); ran {
		t.Fatal("Tick() ran a refresh the agent declined")
	}
	if len(pub.statuses()) != 0 {
		t.Fatalf("unexpected status events: %v", pub.statuses())
	}
}

func TestTickFailureSetsError(t *testing.T) {
	t.Parallel()

	agent := &refreshingAgent{name: "price", interval: time.Minute, should: true, err: errors.New("rpc down")}
	reg, sched, _ := setup(t, agent)

	ran, err := sched.Tick(context.Background(), "price")
	if !ran || !errors.Is(err, contractx.ErrEnvironmentRefresh) {
		t.Fatalf("Tick() = %v, %v, want true, ErrEnvironmentRefresh", ran, err)
	}
	if status, _ := reg.Status("price"); status != contractx.StatusError {
		t.Fatalf("status = %q, want ERROR", status)
	}

	agent.err = nil
	if ran, err := sched.Tick(context.Background(), "price"); !ran || err != nil {
		t.Fatalf("retry Tick() = %v, %v, want true, nil", ran, err)
	}
	if status, _ := reg.Status("price"); status != contractx.StatusIdle {
		t.Fatalf("status after retry = %q, want IDLE", status)
	}
}

func TestTickUnknownAgent(t *testing.T) {
	t.Parallel()

	sched := New(registryx.New(nil))
	if ran, err := sched.Tick(context.Background(), "ghost"); ran || err != nil {
		t.Fatalf("Tick() = %v, %v, want false, nil", ran, err)
	}
}

func TestTimerFires(t *testing.T) {
	t.Parallel()

	agent := &refreshingAgent{name: "price", interval: time.Second, should: true}
	_, sched, _ := setup(t, agent)
	sched.Start()
	defer sched.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for agent.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer never refreshed the agent")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
