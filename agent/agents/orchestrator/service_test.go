package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

type echoAgent struct{}

func (echoAgent) Name() string        { return "echo" }
func (echoAgent) Description() string { return "Echoes its input" }
func (echoAgent) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"x":{"type":"number"}}}`)
}
func (echoAgent) ContextInfo() string { return "" }
func (echoAgent) HandleTask(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		X float64 `json:"x"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "value": in.X}, nil
}

type failingAgent struct {
	panics bool
}

func (failingAgent) Name() string                      { return "broken" }
func (failingAgent) Description() string               { return "Always fails" }
func (failingAgent) ParametersSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (failingAgent) ContextInfo() string               { return "" }
func (a failingAgent) HandleTask(context.Context, json.RawMessage) (any, error) {
	if a.panics {
		panic("nil wallet")
	}
	return nil, errors.New("insufficient funds")
}

type envAgent struct {
	should     atomic.Bool
	refreshErr error
	refreshed  atomic.Int32
	seenCaller atomic.Value
}

func (*envAgent) Name() string                      { return "price" }
func (*envAgent) Description() string               { return "Price lookup" }
func (*envAgent) ParametersSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (*envAgent) ContextInfo() string               { return "" }
func (a *envAgent) HandleTask(ctx context.Context, _ json.RawMessage) (any, error) {
	if env, ok := contractx.EnvironmentFrom(ctx); ok {
		a.seenCaller.Store(env.String(contractx.EnvCaller))
	}
	return map[string]any{"price": 1}, nil
}
func (a *envAgent) ShouldRefreshEnvironment(context.Context) bool { return a.should.Load() }
func (a *envAgent) RefreshEnvironment(context.Context, contractx.Environment) error {
	a.refreshed.Add(1)
	return a.refreshErr
}

type slowAgent struct {
	release chan struct{}
	started chan struct{}
}

func (*slowAgent) Name() string                      { return "slow" }
func (*slowAgent) Description() string               { return "Waits" }
func (*slowAgent) ParametersSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (*slowAgent) ContextInfo() string               { return "" }
func (a *slowAgent) HandleTask(context.Context, json.RawMessage) (any, error) {
	a.started <- struct{}{}
	<-a.release
	return "done", nil
}

// eagerAgent always asks for a refresh and blocks in HandleTask until released.
type eagerAgent struct {
	release   chan struct{}
	started   chan struct{}
	inTask    atomic.Bool
	refreshed atomic.Int32
	overlaps  atomic.Int32
}

func (*eagerAgent) Name() string                      { return "eager" }
func (*eagerAgent) Description() string               { return "Always stale" }
func (*eagerAgent) ParametersSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (*eagerAgent) ContextInfo() string               { return "" }
func (a *eagerAgent) HandleTask(context.Context, json.RawMessage) (any, error) {
	a.inTask.Store(true)
	a.started <- struct{}{}
	<-a.release
	a.inTask.Store(false)
	return "done", nil
}
func (*eagerAgent) ShouldRefreshEnvironment(context.Context) bool { return true }
func (a *eagerAgent) RefreshEnvironment(context.Context, contractx.Environment) error {
	if a.inTask.Load() {
		a.overlaps.Add(1)
	}
	a.refreshed.Add(1)
	return nil
}

type fakeConn struct {
	mu     sync.Mutex
	events []contractx.Event
	notify chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{notify: make(chan struct{}, 64)}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	var ev contractx.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.notify <- struct{}{}
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) await(t *testing.T, n int) []contractx.Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contractx.Event(nil), c.events...)
}

func (c *fakeConn) quiet(t *testing.T) {
	t.Helper()
	select {
	case <-c.notify:
		c.mu.Lock()
		defer c.mu.Unlock()
		t.Fatalf("unexpected extra event: %+v", c.events[len(c.events)-1])
	case <-time.After(50 * time.Millisecond):
	}
}

func newOrchestrator(t *testing.T, agents ...contractx.Agent) *Orchestrator {
	t.Helper()
	o, err := NewDefault(Config{})
	if err != nil {
		t.Fatalf("NewDefault() error = %v", err)
	}
	t.Cleanup(o.Close)
	for _, a := range agents {
		if err := o.Register(a); err != nil {
			t.Fatalf("Register(%s) error = %v", a.Name(), err)
		}
	}
	return o
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil, nil, Config{}); err == nil {
		t.Fatal("New() with nil registry should fail")
	}
}

func TestDispatchEcho(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, echoAgent{})
	conn := newFakeConn()
	o.Subscribe(conn, false)

	result, err := o.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":5}`))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	var got struct {
		OK    bool    `json:"ok"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !got.OK || got.Value != 5 {
		t.Fatalf("result = %s, want {ok:true,value:5}", result)
	}

	events := conn.await(t, 2)
	conn.quiet(t)
	if events[0].Type != contractx.EventAgentInvocation || events[0].FunctionName != "echo" {
		t.Fatalf("events[0] = %+v, want agent_invocation for echo", events[0])
	}
	if string(events[0].Arguments) != `{"x":5}` {
		t.Fatalf("invocation arguments = %s", events[0].Arguments)
	}
	if events[0].Status != contractx.StatusActive {
		t.Fatalf("invocation status = %q, want ACTIVE", events[0].Status)
	}
	if events[1].Type != contractx.EventAgentResult || events[1].Status != contractx.StatusIdle {
		t.Fatalf("events[1] = %+v, want agent_result with IDLE", events[1])
	}
	if events[1].Timestamp.Before(events[0].Timestamp) {
		t.Fatal("timestamps must be non-decreasing")
	}
	if status, _ := o.Status("echo"); status != contractx.StatusIdle {
		t.Fatalf("status = %q, want IDLE", status)
	}
}

func TestDispatchEmptyArguments(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, echoAgent{})
	if _, err := o.Dispatch(context.Background(), "echo", nil); err != nil {
		t.Fatalf("Dispatch() with nil arguments error = %v", err)
	}
}

func TestDispatchUnknownAgent(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, echoAgent{})
	conn := newFakeConn()
	o.Subscribe(conn, false)

	_, err := o.Dispatch(context.Background(), "nope", json.RawMessage(`{}`))
	if !errors.Is(err, contractx.ErrUnknownAgent) {
		t.Fatalf("Dispatch() error = %v, want ErrUnknownAgent", err)
	}

	events := conn.await(t, 1)
	conn.quiet(t)
	if events[0].Type != contractx.EventAgentError || events[0].FunctionName != "nope" {
		t.Fatalf("event = %+v, want agent_error for nope", events[0])
	}
	if events[0].Error != "No registered agent found for functionName = nope" {
		t.Fatalf("error text = %q", events[0].Error)
	}
	if status, _ := o.Status("echo"); status != contractx.StatusIdle {
		t.Fatalf("echo status changed to %q", status)
	}
}

func TestDispatchMalformedArguments(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, echoAgent{})
	conn := newFakeConn()
	o.Subscribe(conn, false)

	_, err := o.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":`))
	if !errors.Is(err, contractx.ErrMalformedMessage) {
		t.Fatalf("Dispatch() error = %v, want ErrMalformedMessage", err)
	}

	events := conn.await(t, 1)
	if events[0].Type != contractx.EventAgentError || events[0].FunctionName != "echo" {
		t.Fatalf("events[0] = %+v, want agent_error for echo", events[0])
	}
	if !strings.Contains(events[0].Error, "not valid JSON") {
		t.Fatalf("unexpected error text: %q", events[0].Error)
	}
	if status, _ := o.Status("echo"); status != contractx.StatusIdle {
		t.Fatalf("status = %s, want IDLE", status)
	}
}

func TestDispatchTaskFailure(t *testing.T) {
	t.Parallel()

	for _, panics := range []bool{false, true} {
		o := newOrchestrator(t, failingAgent{panics: panics})
		conn := newFakeConn()
		o.Subscribe(conn, false)

		_, err := o.Dispatch(context.Background(), "broken", json.RawMessage(`{}`))
		if !errors.Is(err, contractx.ErrAgentTask) {
			t.Fatalf("panics=%v: Dispatch() error = %v, want ErrAgentTask", panics, err)
		}

		events := conn.await(t, 2)
		if events[0].Type != contractx.EventAgentInvocation || events[0].Status != contractx.StatusActive {
			t.Fatalf("panics=%v: events[0] = %+v", panics, events[0])
		}
		if events[1].Type != contractx.EventAgentError || events[1].Status != contractx.StatusError {
			t.Fatalf("panics=%v: events[1] = %+v, want agent_error with ERROR", panics, events[1])
		}
		if status, _ := o.Status("broken"); status != contractx.StatusError {
			t.Fatalf("panics=%v: status = %q, want ERROR", panics, status)
		}
	}
}

func TestDispatchRefreshesBeforeInvoke(t *testing.T) {
	t.Parallel()

	agent := &envAgent{}
	agent.should.Store(true)
	o := newOrchestrator(t, agent)
	conn := newFakeConn()
	o.Subscribe(conn, false)

	ctx := contractx.WithEnvironment(context.Background(), contractx.Environment{contractx.EnvCaller: "+15550100"})
	if _, err := o.Dispatch(ctx, "price", nil); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if agent.refreshed.Load() != 1 {
		t.Fatalf("refreshed = %d, want 1", agent.refreshed.Load())
	}
	if got, _ := agent.seenCaller.Load().(string); got != "+15550100" {
		t.Fatalf("caller seen by task = %q", got)
	}

	events := conn.await(t, 4)
	want := []contractx.EventType{
		contractx.EventAgentStatusChanged,
		contractx.EventAgentStatusChanged,
		contractx.EventAgentInvocation,
		contractx.EventAgentResult,
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Fatalf("events[%d] = %q, want %q", i, events[i].Type, w)
		}
	}
	if events[0].Status != contractx.StatusUpdating || events[1].Status != contractx.StatusIdle {
		t.Fatalf("refresh statuses = %q, %q", events[0].Status, events[1].Status)
	}
}

func TestDispatchRefreshFailure(t *testing.T) {
	t.Parallel()

	agent := &envAgent{refreshErr: errors.New("rpc down")}
	agent.should.Store(true)
	o := newOrchestrator(t, agent)
	conn := newFakeConn()
	o.Subscribe(conn, false)

	_, err := o.Dispatch(context.Background(), "price", nil)
	if !errors.Is(err, contractx.ErrEnvironmentRefresh) {
		t.Fatalf("Dispatch() error = %v, want ErrEnvironmentRefresh", err)
	}
	events := conn.await(t, 3)
	if events[2].Type != contractx.EventAgentError || events[2].Status != contractx.StatusError {
		t.Fatalf("events[2] = %+v, want agent_error with ERROR", events[2])
	}
	if status, _ := o.Status("price"); status != contractx.StatusError {
		t.Fatalf("status = %q, want ERROR", status)
	}
}

func TestRefreshNeverRunsWhileActive(t *testing.T) {
	t.Parallel()

	slow := &slowAgent{release: make(chan struct{}), started: make(chan struct{}, 1)}
	o := newOrchestrator(t, slow)

	done := make(chan error, 1)
	go func() {
		_, err := o.Dispatch(context.Background(), "slow", nil)
		done <- err
	}()
	<-slow.started

	if status, _ := o.Status("slow"); status != contractx.StatusActive {
		t.Fatalf("status during task = %q, want ACTIVE", status)
	}
	e, _ := o.registry.Lookup("slow")
	if o.registry.BeginRefresh(e) {
		t.Fatal("BeginRefresh() succeeded while ACTIVE")
	}

	close(slow.release)
	if err := <-done; err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if status, _ := o.Status("slow"); status != contractx.StatusIdle {
		t.Fatalf("status after task = %q, want IDLE", status)
	}
}

func TestSchedulerTicksSkipLongDispatch(t *testing.T) {
	t.Parallel()

	agent := &eagerAgent{release: make(chan struct{}), started: make(chan struct{}, 1)}
	o := newOrchestrator(t, agent)

	done := make(chan error, 1)
	go func() {
		_, err := o.Dispatch(context.Background(), "eager", nil)
		done <- err
	}()
	<-agent.started
	if got := agent.refreshed.Load(); got != 1 {
		t.Fatalf("refreshes before invoke = %d, want 1", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ran, err := o.scheduler.Tick(context.Background(), "eager")
			if ran || err != nil {
				t.Errorf("Tick() during dispatch = %v, %v; want skipped", ran, err)
			}
		}()
	}
	wg.Wait()

	if got := agent.refreshed.Load(); got != 1 {
		t.Fatalf("refreshes during dispatch = %d, want 1", got)
	}
	if status, _ := o.Status("eager"); status != contractx.StatusActive {
		t.Fatalf("status during task = %q, want ACTIVE", status)
	}

	close(agent.release)
	if err := <-done; err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	ran, err := o.scheduler.Tick(context.Background(), "eager")
	if !ran || err != nil {
		t.Fatalf("Tick() after dispatch = %v, %v; want a refresh", ran, err)
	}
	if got := agent.overlaps.Load(); got != 0 {
		t.Fatalf("refresh ran %d times while the task was running", got)
	}
	if status, _ := o.Status("eager"); status != contractx.StatusIdle {
		t.Fatalf("status after tick = %q, want IDLE", status)
	}
}

func TestSubscribeWithFullList(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, echoAgent{}, failingAgent{})
	conn := newFakeConn()
	o.Subscribe(conn, true)

	events := conn.await(t, 1)
	if events[0].Type != contractx.EventAgentFullList {
		t.Fatalf("first event = %q, want agent_full_list", events[0].Type)
	}
	if len(events[0].Agents) != 2 || events[0].Agents[0].Name != "echo" {
		t.Fatalf("agents = %+v", events[0].Agents)
	}
}

func TestObserversDoNotCrossTalk(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, echoAgent{})
	a, b := newFakeConn(), newFakeConn()
	unsubscribeA := o.Subscribe(a, false)
	o.Subscribe(b, false)

	if _, err := o.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	a.await(t, 2)
	b.await(t, 2)

	unsubscribeA()
	if _, err := o.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":2}`)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	b.await(t, 2)
	a.quiet(t)
}
