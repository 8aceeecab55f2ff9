package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	"github.com/uptrace/bun"
)

// EventRecord is one row of the agent_events table.
type EventRecord struct {
	bun.BaseModel `bun:"table:agent_events,alias:ae"`

	ID        int64           `bun:"id,pk,autoincrement" json:"id"`
	Type      string          `bun:"type,notnull" json:"type"`
	Agent     string          `bun:"agent" json:"agent,omitempty"`
	CallID    string          `bun:"call_id" json:"callId,omitempty"`
	Status    string          `bun:"status" json:"status,omitempty"`
	Payload   json.RawMessage `bun:"payload,type:jsonb,notnull" json:"payload"`
	CreatedAt time.Time       `bun:"created_at,notnull" json:"createdAt"`
}

func newEventRecord(ev contractx.Event, now time.Time) (*EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = now
	}
	return &EventRecord{
		Type:      string(ev.Type),
		Agent:     ev.Subject(),
		CallID:    ev.CallID,
		Status:    string(ev.Status),
		Payload:   payload,
		CreatedAt: at.UTC(),
	}, nil
}

// PostgresSink appends events to agent_events.
type PostgresSink struct {
	db     bun.IDB
	filter Filter
	now    func() time.Time
}

func NewPostgresSink(db bun.IDB, filter Filter) *PostgresSink {
	return &PostgresSink{db: db, filter: filter, now: time.Now}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*EventRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create agent_events table: %w", err)
	}
	_, err := s.db.NewCreateIndex().
		Model((*EventRecord)(nil)).
		Index("agent_events_call_id_idx").
		IfNotExists().
		Column("call_id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create agent_events index: %w", err)
	}
	return nil
}

func (s *PostgresSink) Consume(ctx context.Context, ev contractx.Event) error {
	if !s.filter.Allows(ev.Type) {
		return nil
	}
	rec, err := newEventRecord(ev, s.now())
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return fmt.Errorf("insert agent event: %w", err)
	}
	return nil
}

// ByCall returns the events recorded for one call, oldest first.
func (s *PostgresSink) ByCall(ctx context.Context, callID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []EventRecord
	err := s.db.NewSelect().
		Model(&out).
		Where("call_id = ?", callID).
		OrderExpr("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agent events: %w", err)
	}
	return out, nil
}
