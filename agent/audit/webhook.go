package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

// WebhookConfig is read with the QSTASH prefix next to qstash.Config.
type WebhookConfig struct {
	Destination string   `envconfig:"DESTINATION"`
	Types       []string `envconfig:"TYPES"`
}

func (c WebhookConfig) Enabled() bool {
	return strings.TrimSpace(c.Destination) != ""
}

// Publisher queues a webhook delivery. *qstash.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, destination string, body []byte) (string, error)
}

// DefaultWebhookTypes are the events worth an outbound webhook.
var DefaultWebhookTypes = Filter{
	contractx.EventAgentResult,
	contractx.EventAgentError,
}

// WebhookSink forwards selected events to a webhook through QStash.
type WebhookSink struct {
	publisher   Publisher
	destination string
	filter      Filter
}

func NewWebhookSink(publisher Publisher, destination string, filter Filter) *WebhookSink {
	if len(filter) == 0 {
		filter = DefaultWebhookTypes
	}
	return &WebhookSink{
		publisher:   publisher,
		destination: strings.TrimSpace(destination),
		filter:      filter,
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Consume(ctx context.Context, ev contractx.Event) error {
	if !s.filter.Allows(ev.Type) {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.publisher.Publish(ctx, s.destination, body); err != nil {
		return fmt.Errorf("webhook %s: %w", ev.Type, err)
	}
	return nil
}
