package contract

import (
	"context"
	"encoding/json"
	"time"
)

// Agent is a named capability the voice model can call as a function.
type Agent interface {
	Name() string
	Description() string
	// ParametersSchema is the JSON Schema object advertised to the model.
	ParametersSchema() json.RawMessage
	ContextInfo() string
	HandleTask(ctx context.Context, args json.RawMessage) (any, error)
}

// Refreshable agents keep environment data that can go stale.
type Refreshable interface {
	ShouldRefreshEnvironment(ctx context.Context) bool
	RefreshEnvironment(ctx context.Context, env Environment) error
}

// IntervalDeclaring agents ask for a periodic refresh. A non-positive interval means none.
type IntervalDeclaring interface {
	RefreshInterval() time.Duration
}

type Publisher interface {
	Publish(ev Event)
}
