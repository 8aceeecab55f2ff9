package tool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	llmx "github.com/tanpawarit/voice-agent-orchestrator/agent/llm"
)

type fakeChatModel struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	input   []*schema.Message
	options *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.input = input
	f.options = model.GetCommonOptions(nil, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.answer, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSearchAnswers(t *testing.T) {
	t.Parallel()

	fake := &fakeChatModel{answer: " Paris. "}
	s := NewSearch(fake, llmx.Model{Name: "test/model", Temperature: 0.2, MaxTokens: 50}, 0)

	out, err := s.HandleTask(context.Background(), json.RawMessage(`{"query":"capital of France?"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := out.(SearchResult)
	if res.Answer != "Paris." || res.Model != "test/model" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if fake.callCount() != 1 {
		t.Fatalf("expected one completion call, got %d", fake.callCount())
	}
	if len(fake.input) != 2 || fake.input[0].Role != schema.System || fake.input[1].Content != "capital of France?" {
		t.Fatalf("unexpected prompt: %+v", fake.input)
	}
	opts := fake.options
	if opts.Model == nil || *opts.Model != "test/model" {
		t.Fatalf("unexpected model option: %+v", opts.Model)
	}
	if opts.MaxTokens == nil || *opts.MaxTokens != 50 {
		t.Fatalf("unexpected max tokens option: %+v", opts.MaxTokens)
	}
	if opts.Temperature == nil || *opts.Temperature != float32(0.2) {
		t.Fatalf("unexpected temperature option: %+v", opts.Temperature)
	}
}

func TestSearchModelFailure(t *testing.T) {
	t.Parallel()

	s := NewSearch(&fakeChatModel{err: errors.New("upstream 503")}, llmx.Model{Name: "test/model"}, 0)
	if _, err := s.HandleTask(context.Background(), json.RawMessage(`{"query":"weather"}`)); err == nil {
		t.Fatal("expected the model failure to surface")
	}
	if got := s.ContextInfo(); got != `Search failed for "weather".` {
		t.Fatalf("unexpected context info: %q", got)
	}
}

func TestSearchRateLimit(t *testing.T) {
	t.Parallel()

	fake := &fakeChatModel{answer: "Paris."}
	s := NewSearch(fake, llmx.Model{Name: "test/model"}, 1)
	args := json.RawMessage(`{"query":"capital of France?"}`)

	if _, err := s.HandleTask(context.Background(), args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.HandleTask(ctx, args); err == nil {
		t.Fatal("expected the exhausted budget to fail a cancelled request")
	}
	if fake.callCount() != 1 {
		t.Fatalf("rate limited request must not reach the model, got %d calls", fake.callCount())
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	s := NewSearch(nil, llmx.Model{}, 0)
	_, err := s.HandleTask(context.Background(), json.RawMessage(`{"query":"  "}`))
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
