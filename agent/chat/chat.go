// Package chat runs text conversations through the realtime model, with the
// same agents the voice bridge offers.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	bridgex "github.com/tanpawarit/voice-agent-orchestrator/agent/bridge"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	realtimex "github.com/tanpawarit/voice-agent-orchestrator/pkg/realtime"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	defaultHistory          = 20
	defaultMaxRounds        = 6
	defaultTimeout          = 60 * time.Second
	defaultMaxConversations = 1024
	defaultIdleTTL          = 30 * time.Minute
)

var ErrTooManyFunctionCalls = errors.New("too many function calls in one turn")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	Instructions string
	Temperature  float64
	// History is the number of messages kept per conversation.
	History int
	// MaxRounds bounds function calls answered within one turn.
	MaxRounds int
	Timeout   time.Duration
	// MaxConversations caps live conversations; the least recently used is
	// dropped first.
	MaxConversations int
	// IdleTTL forgets a conversation that has not been used for this long.
	IdleTTL time.Duration
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service answers chat messages. Each conversation keeps its own bounded history.
type Service struct {
	connector  bridgex.Connector
	dispatcher bridgex.Dispatcher
	pub        contractx.Publisher
	cfg        Config

	mu            sync.Mutex
	conversations *expirable.LRU[string, *conversation]

	now func() time.Time
	log zerolog.Logger
}

type conversation struct {
	mu      sync.Mutex
	history []Message
}

func New(connector bridgex.Connector, dispatcher bridgex.Dispatcher, pub contractx.Publisher, cfg Config, opts ...Option) (*Service, error) {
	if connector == nil {
		return nil, errors.New("realtime connector is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if pub == nil {
		return nil, errors.New("event publisher is required")
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = defaultMaxConversations
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}

	s := &Service{
		connector:     connector,
		dispatcher:    dispatcher,
		pub:           pub,
		cfg:           cfg,
		conversations: expirable.NewLRU[string, *conversation](cfg.MaxConversations, nil, cfg.IdleTTL),
		now:           time.Now,
		log:           log.Logger.With().Str("component", "chat").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send adds message to the conversation and returns the assistant's reply.
// Turns of one conversation run one at a time.
func (s *Service) Send(ctx context.Context, conversationID, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}

	conv := s.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	l := s.log.With().Str("conversation_id", conversationID).Logger()
	s.pub.Publish(contractx.MessageEvent(conversationID, RoleUser, message, s.now()))

	turn := append(conv.history[:len(conv.history):len(conv.history)], Message{Role: RoleUser, Content: message})
	reply, err := s.run(ctx, conversationID, turn, l)
	if err != nil {
		return "", err
	}

	turn = append(turn, Message{Role: RoleAssistant, Content: reply})
	if over := len(turn) - s.cfg.History; over > 0 {
		turn = turn[over:]
	}
	conv.history = turn

	s.pub.Publish(contractx.MessageEvent(conversationID, RoleAssistant, reply, s.now()))
	return reply, nil
}

// History returns a copy of the stored messages of a conversation.
func (s *Service) History(conversationID string) []Message {
	conv, ok := s.conversations.Peek(conversationID)
	if !ok {
		return nil
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return append([]Message(nil), conv.history...)
}

// Reset forgets a conversation.
func (s *Service) Reset(conversationID string) {
	s.conversations.Remove(conversationID)
}

func (s *Service) conversation(id string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations.Get(id)
	if !ok {
		conv = &conversation{}
	}
	// Re-adding restarts the idle timer.
	s.conversations.Add(id, conv)
	return conv
}

func (s *Service) sessionConfig() realtimex.SessionConfig {
	agents := s.dispatcher.List()
	tools := make([]realtimex.Tool, 0, len(agents))
	for _, a := range agents {
		params := a.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, realtimex.Tool{Type: "function", Name: a.Name, Description: a.Description, Parameters: params})
	}
	return realtimex.SessionConfig{
		Instructions: s.cfg.Instructions,
		Modalities:   []string{realtimex.ModalityText},
		Temperature:  s.cfg.Temperature,
		Tools:        tools,
		ToolChoice:   realtimex.ToolChoiceAuto,
	}
}

func (s *Service) run(ctx context.Context, conversationID string, turn []Message, l zerolog.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	session, err := s.connector.Connect(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: open realtime session: %w", contractx.ErrBridgeTransport, err)
	}
	defer session.Close()
	stop := context.AfterFunc(ctx, func() { _ = session.Close() })
	defer stop()

	if err := s.prime(session, turn); err != nil {
		return "", fmt.Errorf("%w: %w", contractx.ErrBridgeTransport, err)
	}

	var text strings.Builder
	rounds := 0
	for {
		ev, err := session.ReadEvent()
		if errors.Is(err, realtimex.ErrMalformedEvent) {
			l.Warn().Err(err).Msg("skip malformed realtime event")
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("%w: %w", contractx.ErrBridgeTransport, ctxErr)
			}
			return "", fmt.Errorf("%w: %w", contractx.ErrBridgeTransport, err)
		}

		switch ev.Type {
		case realtimex.EventTypeError:
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return "", fmt.Errorf("%w: realtime error: %s", contractx.ErrBridgeTransport, msg)

		case realtimex.EventTypeResponseTextDelta:
			text.WriteString(ev.Delta)

		case realtimex.EventTypeResponseDone:
			fc, ok := ev.FunctionCall()
			if !ok {
				if reply, ok := ev.Text(); ok {
					return strings.TrimSpace(reply), nil
				}
				return strings.TrimSpace(text.String()), nil
			}

			rounds++
			if rounds > s.cfg.MaxRounds {
				return "", ErrTooManyFunctionCalls
			}
			text.Reset()
			if err := s.answerFunctionCall(ctx, session, conversationID, fc, l); err != nil {
				return "", fmt.Errorf("%w: %w", contractx.ErrBridgeTransport, err)
			}
		}
	}
}

func (s *Service) prime(session *realtimex.Session, turn []Message) error {
	if err := session.UpdateSession(s.sessionConfig()); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	for _, m := range turn {
		var err error
		if m.Role == RoleAssistant {
			err = session.AddAssistantMessage(m.Content)
		} else {
			err = session.AddUserMessage(m.Content)
		}
		if err != nil {
			return fmt.Errorf("replay history: %w", err)
		}
	}
	if err := session.CreateResponse(); err != nil {
		return fmt.Errorf("request response: %w", err)
	}
	return nil
}

func (s *Service) answerFunctionCall(ctx context.Context, session *realtimex.Session, conversationID string, fc realtimex.OutputItem, l zerolog.Logger) error {
	l = l.With().Str("agent", fc.Name).Str("function_call_id", fc.CallID).Logger()

	var output json.RawMessage
	args, err := bridgex.ParseArguments(fc.Arguments)
	if err != nil {
		err = fmt.Errorf("%w: arguments for %s: %v", contractx.ErrMalformedMessage, fc.Name, err)
		s.pub.Publish(contractx.ErrorEvent(fc.Name, err.Error(), "", s.now()))
	} else {
		env := contractx.Environment{"call_id": conversationID}
		output, err = s.dispatcher.Dispatch(contractx.WithEnvironment(ctx, env), fc.Name, args)
	}
	if err != nil {
		l.Warn().Err(err).Msg("function call failed")
		output = bridgex.FailurePayload(err)
	}

	if err := session.AddFunctionCallOutput(fc.CallID, string(output)); err != nil {
		return fmt.Errorf("deliver function result: %w", err)
	}
	return session.CreateResponse()
}
