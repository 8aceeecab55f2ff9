package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	statex "github.com/tanpawarit/voice-agent-orchestrator/agent/state"
	realtimex "github.com/tanpawarit/voice-agent-orchestrator/pkg/realtime"
)

const defaultSaveTimeout = 5 * time.Second

// MediaConn is the telephony media-stream leg. *websocket.Conn satisfies it.
type MediaConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Connector opens the speech-AI leg of a call.
type Connector interface {
	Connect(ctx context.Context) (*realtimex.Session, error)
}

// Dispatcher runs function calls and lists the agents offered as tools.
type Dispatcher interface {
	Dispatch(ctx context.Context, functionName string, args json.RawMessage) (json.RawMessage, error)
	List() []contractx.AgentInfo
}

type Config struct {
	Instructions          string
	Voice                 string
	Temperature           float64
	TranscriptionModel    string
	TranscriptionLanguage string
}

// ConfigFrom takes the voice settings from the realtime client config.
func ConfigFrom(rt realtimex.Config, instructions string) Config {
	return Config{
		Instructions:          instructions,
		Voice:                 rt.Voice,
		Temperature:           rt.Temperature,
		TranscriptionModel:    rt.TranscriptionModel,
		TranscriptionLanguage: rt.TranscriptionLanguage,
	}
}

type Option func(*Bridge)

func WithStore(store statex.Store) Option {
	return func(b *Bridge) {
		b.store = store
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

func WithCallIDs(next func() string) Option {
	return func(b *Bridge) {
		if next != nil {
			b.newID = next
		}
	}
}

// Bridge relays audio between a phone call and a realtime speech-AI session
// and routes the session's function calls to the dispatcher.
type Bridge struct {
	connector  Connector
	dispatcher Dispatcher
	pub        contractx.Publisher
	store      statex.Store
	cfg        Config

	inflight sync.WaitGroup

	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

func New(connector Connector, dispatcher Dispatcher, pub contractx.Publisher, cfg Config, opts ...Option) (*Bridge, error) {
	if connector == nil {
		return nil, errors.New("realtime connector is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if pub == nil {
		return nil, errors.New("event publisher is required")
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = realtimex.VoiceAsh
	}

	b := &Bridge{
		connector:  connector,
		dispatcher: dispatcher,
		pub:        pub,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		log:        log.Logger.With().Str("component", "bridge").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// SessionConfig builds the session.update body from the registered agents.
func (b *Bridge) SessionConfig() realtimex.SessionConfig {
	agents := b.dispatcher.List()
	tools := make([]realtimex.Tool, 0, len(agents))
	for _, a := range agents {
		params := a.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, realtimex.Tool{
			Type:        "function",
			Name:        a.Name,
			Description: a.Description,
			Parameters:  params,
		})
	}

	cfg := realtimex.SessionConfig{
		TurnDetection:     &realtimex.TurnDetection{Type: realtimex.VADServerVAD},
		InputAudioFormat:  realtimex.AudioFormatG711ULaw,
		OutputAudioFormat: realtimex.AudioFormatG711ULaw,
		Voice:             b.cfg.Voice,
		Instructions:      b.cfg.Instructions,
		Modalities:        []string{realtimex.ModalityText, realtimex.ModalityAudio},
		Temperature:       b.cfg.Temperature,
		Tools:             tools,
		ToolChoice:        realtimex.ToolChoiceAuto,
	}
	if b.cfg.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &realtimex.Transcription{
			Model:    b.cfg.TranscriptionModel,
			Language: b.cfg.TranscriptionLanguage,
		}
	}
	return cfg
}

// Serve bridges one call until either leg closes or ctx is done. It owns
// media and closes it before returning.
func (b *Bridge) Serve(ctx context.Context, media MediaConn) error {
	c := newCall(b.newID(), media, b.now())
	l := b.log.With().Str("call_id", c.id).Logger()

	l.Info().Msg("media stream connected")
	b.pub.Publish(contractx.SystemEvent(c.id, "New Twilio call connected", b.now()))

	ai, err := b.connector.Connect(ctx)
	if err != nil {
		c.close()
		b.pub.Publish(contractx.SystemEvent(c.id, "Twilio call ended", b.now()))
		return fmt.Errorf("%w: open realtime session: %w", contractx.ErrBridgeTransport, err)
	}
	c.ai = ai

	if err := ai.UpdateSession(b.SessionConfig()); err != nil {
		c.close()
		b.pub.Publish(contractx.SystemEvent(c.id, "Twilio call ended", b.now()))
		return fmt.Errorf("%w: initialize realtime session: %w", contractx.ErrBridgeTransport, err)
	}
	l.Debug().Msg("realtime session initialized")

	stop := context.AfterFunc(ctx, c.close)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer c.close()
		b.callerToAI(c, l)
	}()
	go func() {
		defer wg.Done()
		defer c.close()
		b.aiToCaller(ctx, c, l)
	}()
	wg.Wait()

	rec := c.finish(b.now())
	l.Info().Int("function_calls", len(rec.FunctionCalls)).Msg("call ended")
	b.pub.Publish(contractx.SystemEvent(c.id, "Twilio call ended", b.now()))
	b.saveRecord(rec, l)
	return nil
}

// Wait blocks until function calls started by past calls finish.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}

func (b *Bridge) callerToAI(c *call, l zerolog.Logger) {
	for {
		_, data, err := c.media.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				l.Debug().Err(err).Msg("media leg closed")
			}
			return
		}
		if c.isClosed() {
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.Warn().Err(fmt.Errorf("%w: %v", contractx.ErrMalformedMessage, err)).Msg("dropping media frame")
			continue
		}

		switch msg.Event {
		case twilioEventStart:
			if msg.Start == nil {
				l.Warn().Err(contractx.ErrMalformedMessage).Msg("start frame without payload")
				continue
			}
			sess, ok := c.resetSession(msg.Start)
			if !ok {
				return
			}
			l.Info().Str("stream_sid", sess.streamSID).Msg("stream started")
			b.saveRecord(c.snapshot(), l)
		case twilioEventMedia:
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			if !c.active() {
				l.Debug().Msg("caller audio before stream start, dropped")
				continue
			}
			if ts, ok := msg.Media.timestampMillis(); ok {
				c.observeTimestamp(ts)
			}
			if err := c.ai.AppendAudio(msg.Media.Payload); err != nil {
				if !c.isClosed() {
					l.Warn().Err(fmt.Errorf("%w: %w", contractx.ErrBridgeTransport, err)).Msg("forward caller audio")
				}
				return
			}
		case twilioEventStop:
			l.Info().Msg("stream stopped by caller")
			return
		case twilioEventMark:
		default:
			l.Debug().Str("event", msg.Event).Msg("ignoring media frame")
		}
	}
}

func (b *Bridge) aiToCaller(ctx context.Context, c *call, l zerolog.Logger) {
	for {
		ev, err := c.ai.ReadEvent()
		if err != nil {
			if errors.Is(err, realtimex.ErrMalformedEvent) {
				l.Warn().Err(err).Msg("dropping realtime event")
				continue
			}
			if !c.isClosed() {
				l.Debug().Err(err).Msg("realtime leg closed")
			}
			return
		}
		if c.isClosed() {
			return
		}

		switch ev.Type {
		case realtimex.EventTypeResponseAudioDelta:
			if err := b.forwardAudio(c, ev, l); err != nil {
				if !c.isClosed() {
					l.Warn().Err(fmt.Errorf("%w: %w", contractx.ErrBridgeTransport, err)).Msg("forward assistant audio")
				}
				return
			}
		case realtimex.EventTypeInputAudioBufferSpeechStarted:
			b.interrupt(c, l)
		case realtimex.EventTypeResponseAudioTranscriptDone:
			b.transcript(c, "assistant", ev.Transcript)
		case realtimex.EventTypeInputTranscriptionCompleted:
			b.transcript(c, "user", ev.Transcript)
		case realtimex.EventTypeResponseDone:
			c.endResponse()
			if fc, ok := ev.FunctionCall(); ok {
				b.inflight.Add(1)
				go func() {
					defer b.inflight.Done()
					b.runFunctionCall(ctx, c, fc, l)
				}()
			}
		case realtimex.EventTypeError:
			if ev.Error != nil {
				l.Warn().Str("code", ev.Error.Code).Msg(ev.Error.Message)
			}
		}
	}
}

func (b *Bridge) forwardAudio(c *call, ev *realtimex.ServerEvent, l zerolog.Logger) error {
	if ev.Delta == "" {
		return nil
	}
	if !c.active() {
		l.Debug().Msg("assistant audio outside an active stream, dropped")
		return nil
	}

	sid, opened := c.beginAudio(ev.ItemID)
	if opened {
		b.pub.Publish(contractx.SystemEvent(c.id, "Assistant speaking...", b.now()))
	}
	return b.writeMedia(c, outboundMedia{
		Event:     twilioEventMedia,
		StreamSID: sid,
		Media:     &mediaPayload{Payload: ev.Delta},
	})
}

// interrupt handles barge-in: cut the assistant item at what the caller heard
// and flush Twilio's playback buffer.
func (b *Bridge) interrupt(c *call, l zerolog.Logger) {
	itemID, elapsed, sid, ok := c.interrupt()
	if !ok {
		return
	}
	if err := c.ai.TruncateItem(itemID, 0, elapsed); err != nil {
		l.Warn().Err(err).Msg("truncate assistant item")
	}
	if err := b.writeMedia(c, outboundMedia{Event: twilioEventClear, StreamSID: sid}); err != nil {
		l.Warn().Err(err).Msg("clear caller playback")
	}
	l.Debug().Str("item", itemID).Int64("audio_end_ms", elapsed).Msg("caller interrupted assistant")
}

func (b *Bridge) transcript(c *call, role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	at := b.now()
	c.addLine(role, text, at)
	b.pub.Publish(contractx.MessageEvent(c.id, role, text, at))
}

func (b *Bridge) writeMedia(c *call, msg outboundMedia) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return nil
	}
	return c.media.WriteMessage(websocket.TextMessage, data)
}

func (b *Bridge) saveRecord(rec *statex.CallRecord, l zerolog.Logger) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
	defer cancel()
	if err := b.store.Save(ctx, rec); err != nil {
		l.Warn().Err(err).Msg("save call record")
	}
}
