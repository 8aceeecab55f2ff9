package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

// argSpec is the JSON Schema of an agent's arguments, both as advertised
// to the model and resolved for validation.
type argSpec struct {
	raw      json.RawMessage
	resolved *jsonschema.Resolved
}

func newArgSpec[T any](edit func(*jsonschema.Schema)) (argSpec, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return argSpec{}, fmt.Errorf("infer schema: %w", err)
	}
	if edit != nil {
		edit(s)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return argSpec{}, fmt.Errorf("marshal schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return argSpec{}, fmt.Errorf("resolve schema: %w", err)
	}
	return argSpec{raw: raw, resolved: resolved}, nil
}

func mustArgSpec[T any](edit func(*jsonschema.Schema)) argSpec {
	spec, err := newArgSpec[T](edit)
	if err != nil {
		panic(err)
	}
	return spec
}

// decodeArgs validates args against spec and decodes them into T.
func decodeArgs[T any](spec argSpec, args json.RawMessage) (T, error) {
	var out T
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return out, fmt.Errorf("%w: arguments are not valid json: %w", contractx.ErrValidation, err)
	}
	if err := spec.resolved.Validate(instance); err != nil {
		return out, fmt.Errorf("%w: %w", contractx.ErrValidation, err)
	}
	if err := json.Unmarshal(args, &out); err != nil {
		return out, fmt.Errorf("%w: decode arguments: %w", contractx.ErrValidation, err)
	}
	return out, nil
}

func setProperty(s *jsonschema.Schema, name string, fn func(*jsonschema.Schema)) {
	if p, ok := s.Properties[name]; ok && p != nil {
		fn(p)
	}
}

// activity holds the one-line context an agent reports about its latest work.
type activity struct {
	mu   sync.Mutex
	line string
}

func newActivity() *activity {
	return &activity{line: "No recent action."}
}

func (a *activity) set(format string, args ...any) {
	a.mu.Lock()
	a.line = fmt.Sprintf(format, args...)
	a.mu.Unlock()
}

func (a *activity) get() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.line
}
