package contract

import (
	"context"
	"encoding/json"
)

type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusActive   Status = "ACTIVE"
	StatusUpdating Status = "UPDATING"
	StatusError    Status = "ERROR"
)

// Busy reports whether a refresh must not start.
func (s Status) Busy() bool {
	return s == StatusActive || s == StatusUpdating
}

// AgentInfo is the public view of a registered agent.
type AgentInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ContextInfo string          `json:"contextInfo"`
	Status      Status          `json:"status"`
	Parameters  json.RawMessage `json:"-"`
}

// Environment is opaque refresh input. Agents read the keys they know.
type Environment map[string]any

const EnvCaller = "caller"

type environmentKey struct{}

func WithEnvironment(ctx context.Context, env Environment) context.Context {
	return context.WithValue(ctx, environmentKey{}, env)
}

func EnvironmentFrom(ctx context.Context) (Environment, bool) {
	env, ok := ctx.Value(environmentKey{}).(Environment)
	return env, ok
}

// Merge returns a copy of e overlaid with other.
func (e Environment) Merge(other Environment) Environment {
	out := make(Environment, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String returns the value of key when it is a string.
func (e Environment) String(key string) string {
	v, _ := e[key].(string)
	return v
}
