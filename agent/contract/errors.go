package contract

import "errors"

var (
	ErrUnknownAgent       = errors.New("no registered agent found")
	ErrAgentTask          = errors.New("agent task failed")
	ErrEnvironmentRefresh = errors.New("environment refresh failed")
	ErrBridgeTransport    = errors.New("bridge transport failed")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrValidation         = errors.New("validation failed")
)
