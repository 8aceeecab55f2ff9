package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

func newTestSink(t *testing.T, filter Filter) *PostgresSink {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	sink := NewPostgresSink(db, filter)
	sink.now = func() time.Time { return at }
	if err := sink.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return sink
}

func TestPostgresSinkRecordsByCall(t *testing.T) {
	t.Parallel()

	sink := newTestSink(t, nil)
	ctx := context.Background()
	invocation := contractx.InvocationEvent("calculator", json.RawMessage(`{"expression":"1+1"}`), contractx.StatusActive, at)
	invocation.CallID = "CA1"
	for _, ev := range []contractx.Event{
		invocation,
		contractx.SystemEvent("CA2", "New Twilio call connected", at),
		contractx.ResultEvent("calculator", json.RawMessage(`{"ok":true}`), contractx.StatusIdle, time.Time{}),
		contractx.SystemEvent("CA1", "Twilio call ended", at.Add(time.Second)),
	} {
		if err := sink.Consume(ctx, ev); err != nil {
			t.Fatalf("Consume(%s) error = %v", ev.Type, err)
		}
	}

	got, err := sink.ByCall(ctx, "CA1", 0)
	if err != nil {
		t.Fatalf("ByCall() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for CA1, got %+v", got)
	}
	if got[0].Type != string(contractx.EventAgentInvocation) || got[0].Agent != "calculator" {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[1].Agent != contractx.SystemFunction || !got[1].CreatedAt.Equal(at.Add(time.Second)) {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
	var payload contractx.Event
	if err := json.Unmarshal(got[0].Payload, &payload); err != nil || payload.CallID != "CA1" {
		t.Fatalf("payload = %s, %v", got[0].Payload, err)
	}

	limited, err := sink.ByCall(ctx, "CA1", 1)
	if err != nil || len(limited) != 1 || limited[0].ID != got[0].ID {
		t.Fatalf("ByCall(limit 1) = %+v, %v", limited, err)
	}
	if none, err := sink.ByCall(ctx, "missing", 10); err != nil || len(none) != 0 {
		t.Fatalf("ByCall(missing) = %+v, %v", none, err)
	}
}

func TestPostgresSinkAppliesFilter(t *testing.T) {
	t.Parallel()

	sink := newTestSink(t, ParseFilter([]string{"agent_result"}))
	ctx := context.Background()
	if err := sink.Consume(ctx, contractx.SystemEvent("CA1", "ignored", at)); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	res := contractx.ResultEvent("calculator", json.RawMessage(`{"ok":true}`), contractx.StatusIdle, at)
	res.CallID = "CA1"
	if err := sink.Consume(ctx, res); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	got, err := sink.ByCall(ctx, "CA1", 10)
	if err != nil || len(got) != 1 || got[0].Type != string(contractx.EventAgentResult) || got[0].Status != "IDLE" {
		t.Fatalf("ByCall() = %+v, %v", got, err)
	}
}
