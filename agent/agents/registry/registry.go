package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

var ErrInvalidAgent = errors.New("agent must have a non-empty name")

// Timers arms periodic refresh for an agent and returns its cancellation handle.
type Timers interface {
	Arm(agent contractx.Agent) (cancel func(), ok bool)
}

// Entry is one registered agent with its status. It stays usable after the
// agent is deregistered so in-flight work can finish its transitions.
type Entry struct {
	agent contractx.Agent

	mu       sync.Mutex
	status   contractx.Status
	inflight int
	cancel   func()
}

func (e *Entry) Agent() contractx.Agent {
	return e.agent
}

func (e *Entry) Name() string {
	return e.agent.Name()
}

func (e *Entry) Status() contractx.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Entry) info() contractx.AgentInfo {
	return contractx.AgentInfo{
		Name:        e.agent.Name(),
		Description: e.agent.Description(),
		ContextInfo: e.agent.ContextInfo(),
		Status:      e.Status(),
		Parameters:  e.agent.ParametersSchema(),
	}
}

type Option func(*Registry)

func WithTimers(t Timers) Option {
	return func(r *Registry) {
		r.timers = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// Registry is the in-memory table of agents keyed by name, in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string

	pub    contractx.Publisher
	timers Timers
	now    func() time.Time
	log    zerolog.Logger
}

func New(pub contractx.Publisher, opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		pub:     pub,
		now:     time.Now,
		log:     log.Logger.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// SetTimers attaches the refresh scheduler. Agents registered earlier are not armed.
func (r *Registry) SetTimers(t Timers) {
	r.mu.Lock()
	r.timers = t
	r.mu.Unlock()
}

// Register adds agent with status IDLE. A second registration under the same
// name replaces the first and cancels its refresh timer.
func (r *Registry) Register(agent contractx.Agent) error {
	if agent == nil || strings.TrimSpace(agent.Name()) == "" {
		return ErrInvalidAgent
	}
	name := agent.Name()
	entry := &Entry{agent: agent, status: contractx.StatusIdle}

	// Timers are armed and cancelled under r.mu so a concurrent Register or
	// Deregister of the same name always sees the handle.
	r.mu.Lock()
	prev, replaced := r.entries[name]
	r.entries[name] = entry
	if !replaced {
		r.order = append(r.order, name)
	}
	if replaced {
		prev.stopTimer()
	}
	if r.timers != nil {
		if cancel, ok := r.timers.Arm(agent); ok {
			entry.mu.Lock()
			entry.cancel = cancel
			entry.mu.Unlock()
		}
	}
	r.mu.Unlock()

	if replaced {
		r.log.Warn().Str("agent", name).Msg("agent re-registered, previous instance replaced")
	}

	r.log.Info().Str("agent", name).Msg("agent registered")
	r.publish(contractx.Event{
		Type:        contractx.EventAgentAdded,
		Name:        name,
		Description: agent.Description(),
		ContextInfo: agent.ContextInfo(),
		Status:      contractx.StatusIdle,
		Timestamp:   r.now(),
	})
	return nil
}

// Deregister removes name and cancels its timer. Unknown names are a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	entry, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		entry.stopTimer()
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.log.Info().Str("agent", name).Msg("agent deregistered")
	r.publish(contractx.Event{Type: contractx.EventAgentRemoved, Name: name, Timestamp: r.now()})
}

func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func (r *Registry) Status(name string) (contractx.Status, bool) {
	e, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	return e.Status(), true
}

// List returns a snapshot of every agent in registration order.
func (r *Registry) List() []contractx.AgentInfo {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, r.entries[name])
	}
	r.mu.RUnlock()

	out := make([]contractx.AgentInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetStatus forces a status and always emits agent_status_changed.
func (r *Registry) SetStatus(name string, status contractx.Status) error {
	e, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", contractx.ErrUnknownAgent, name)
	}
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	r.publish(contractx.StatusChangedEvent(name, status, r.now()))
	return nil
}

// BeginRefresh moves e to UPDATING unless it is ACTIVE or UPDATING.
func (r *Registry) BeginRefresh(e *Entry) bool {
	e.mu.Lock()
	if e.status.Busy() {
		e.mu.Unlock()
		return false
	}
	e.status = contractx.StatusUpdating
	e.mu.Unlock()

	r.publish(contractx.StatusChangedEvent(e.Name(), contractx.StatusUpdating, r.now()))
	return true
}

// EndRefresh settles a refresh to IDLE, or ERROR when err is non-nil. If a
// dispatch started meanwhile the status stays ACTIVE and nothing is emitted.
func (r *Registry) EndRefresh(e *Entry, err error) contractx.Status {
	next := contractx.StatusIdle
	if err != nil {
		next = contractx.StatusError
	}

	e.mu.Lock()
	if e.inflight > 0 {
		current := e.status
		e.mu.Unlock()
		return current
	}
	e.status = next
	e.mu.Unlock()

	r.publish(contractx.StatusChangedEvent(e.Name(), next, r.now()))
	return next
}

// BeginInvocation marks e ACTIVE for one dispatch. The transition is carried
// on the dispatcher's own events.
func (r *Registry) BeginInvocation(e *Entry) contractx.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight++
	e.status = contractx.StatusActive
	return e.status
}

// EndInvocation closes one dispatch. The last one to finish decides between
// IDLE and ERROR; while others run the status stays ACTIVE.
func (r *Registry) EndInvocation(e *Entry, failed bool) contractx.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight > 0 {
		e.inflight--
	}
	switch {
	case e.inflight > 0:
		e.status = contractx.StatusActive
	case failed:
		e.status = contractx.StatusError
	default:
		e.status = contractx.StatusIdle
	}
	return e.status
}

// Close cancels every refresh timer.
func (r *Registry) Close() {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	for _, e := range entries {
		e.stopTimer()
	}
}

func (e *Entry) stopTimer() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Registry) publish(ev contractx.Event) {
	if r.pub != nil {
		r.pub.Publish(ev)
	}
}
