package server

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

// Config is read with the SERVER prefix.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":5050"`
	PublicHost      string        `envconfig:"PUBLIC_HOST" split_words:"true"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" split_words:"true" default:"*"`
	SimulateTimeout time.Duration `envconfig:"SIMULATE_TIMEOUT" split_words:"true" default:"4s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`
	Instructions    string        `envconfig:"INSTRUCTIONS"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: server addr is required", contractx.ErrValidation)
	}
	if strings.Contains(c.PublicHost, "://") {
		return fmt.Errorf("%w: public host must not include a scheme", contractx.ErrValidation)
	}
	for _, origin := range c.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("%w: cors origin %q must be * or start with http:// or https://", contractx.ErrValidation, origin)
		}
	}
	return nil
}
