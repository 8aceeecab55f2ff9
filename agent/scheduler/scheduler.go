package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	registryx "github.com/tanpawarit/voice-agent-orchestrator/agent/agents/registry"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	logx "github.com/tanpawarit/voice-agent-orchestrator/pkg/logger"
)

const defaultRefreshTimeout = time.Minute

// Registry is the subset of the agent registry the scheduler drives.
type Registry interface {
	Lookup(name string) (*registryx.Entry, bool)
	BeginRefresh(e *registryx.Entry) bool
	EndRefresh(e *registryx.Entry, err error) contractx.Status
}

type Option func(*Scheduler)

func WithEnvironment(env contractx.Environment) Option {
	return func(s *Scheduler) {
		s.env = env
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// Scheduler keeps one recurring timer per agent that declares a refresh interval.
type Scheduler struct {
	cron           *cron.Cron
	reg            Registry
	env            contractx.Environment
	refreshTimeout time.Duration
	log            zerolog.Logger
}

func New(reg Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:            reg,
		env:            contractx.Environment{},
		refreshTimeout: defaultRefreshTimeout,
		log:            log.Logger.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	cl := logx.CronLogger{Logger: s.log}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	return s
}

// Arm schedules agent when it declares a positive interval. Intervals below one
// second are rounded up by cron.
func (s *Scheduler) Arm(agent contractx.Agent) (func(), bool) {
	declaring, ok := agent.(contractx.IntervalDeclaring)
	if !ok {
		return nil, false
	}
	interval := declaring.RefreshInterval()
	if interval <= 0 {
		return nil, false
	}

	name := agent.Name()
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
		defer cancel()
		if _, err := s.Tick(ctx, name); err != nil {
			s.log.Warn().Err(err).Str("agent", name).Msg("scheduled refresh failed")
		}
	}))
	s.log.Debug().Str("agent", name).Dur("interval", interval).Msg("refresh timer armed")

	return func() {
		s.cron.Remove(id)
		s.log.Debug().Str("agent", name).Msg("refresh timer cancelled")
	}, true
}

// Tick runs one scheduled refresh attempt for name with the default environment.
func (s *Scheduler) Tick(ctx context.Context, name string) (bool, error) {
	e, ok := s.reg.Lookup(name)
	if !ok {
		return false, nil
	}
	return s.RefreshIfNeeded(ctx, e, s.env)
}

// RefreshIfNeeded runs the UPDATING -> IDLE|ERROR cycle for e when the agent
// is refreshable, not busy, and asks for it. It reports whether a refresh ran.
func (s *Scheduler) RefreshIfNeeded(ctx context.Context, e *registryx.Entry, env contractx.Environment) (bool, error) {
	agent, ok := e.Agent().(contractx.Refreshable)
	if !ok {
		return false, nil
	}
	if e.Status().Busy() {
		return false, nil
	}
	if !agent.ShouldRefreshEnvironment(ctx) {
		return false, nil
	}
	if !s.reg.BeginRefresh(e) {
		return false, nil
	}

	err := safeRefresh(ctx, agent, env)
	status := s.reg.EndRefresh(e, err)
	if err != nil {
		s.log.Warn().Err(err).Str("agent", e.Name()).Str("status", string(status)).Msg("environment refresh failed")
		return true, fmt.Errorf("%w: agent=%s: %w", contractx.ErrEnvironmentRefresh, e.Name(), err)
	}
	s.log.Debug().Str("agent", e.Name()).Msg("environment refreshed")
	return true, nil
}

func safeRefresh(ctx context.Context, agent contractx.Refreshable, env contractx.Environment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()
	return agent.RefreshEnvironment(ctx, env)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timers and waits for running refreshes.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Armed returns the number of live timers.
func (s *Scheduler) Armed() int {
	return len(s.cron.Entries())
}
