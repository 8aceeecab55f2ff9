package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

const (
	defaultQueueSize   = 64
	defaultSinkTimeout = 5 * time.Second
)

// Conn is the write side of an observer connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Sink receives a copy of every event. A failing sink stays subscribed.
type Sink interface {
	Name() string
	Consume(ctx context.Context, ev contractx.Event) error
}

type Option func(*Bus)

func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) {
		b.log = l
	}
}

func WithSinkTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.sinkTimeout = d
		}
	}
}

// Bus fans events out to observer connections and sinks. Publish never blocks:
// every subscriber owns a bounded queue drained by its own writer goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID atomic.Uint64
	closed bool
	wg     sync.WaitGroup

	queueSize   int
	sinkTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

type envelope struct {
	event contractx.Event
	data  []byte
}

type subscriber struct {
	id    uint64
	kind  string
	queue chan envelope
	done  chan struct{}
	once  sync.Once
	// deliver returns false when the subscriber must be dropped.
	deliver func(envelope) bool
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subs:        make(map[uint64]*subscriber),
		queueSize:   defaultQueueSize,
		sinkTimeout: defaultSinkTimeout,
		now:         time.Now,
		log:         log.Logger.With().Str("component", "eventbus").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish stamps ev when it has no timestamp and enqueues it for every subscriber.
func (b *Bus) Publish(ev contractx.Event) {
	if ev.Timestamp.IsZero() && ev.Type != contractx.EventAgentFullList {
		ev.Timestamp = b.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("event", string(ev.Type)).Msg("marshal event")
		return
	}
	env := envelope{event: ev, data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.queue <- env:
		default:
			b.log.Warn().
				Uint64("subscriber", s.id).
				Str("kind", s.kind).
				Str("event", string(ev.Type)).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// Subscribe adds conn to the observer set. The greeting events, if any, are
// delivered before anything published afterwards. The returned func removes
// the observer and is safe to call more than once. The bus never closes conn.
func (b *Bus) Subscribe(conn Conn, greeting ...contractx.Event) func() {
	s := &subscriber{
		kind:  "observer",
		queue: make(chan envelope, b.queueSize+len(greeting)),
		done:  make(chan struct{}),
	}
	s.deliver = func(env envelope) bool {
		if err := conn.WriteMessage(websocket.TextMessage, env.data); err != nil {
			b.log.Debug().Err(err).Uint64("subscriber", s.id).Msg("observer write failed, dropping")
			return false
		}
		return true
	}
	for _, ev := range greeting {
		data, err := json.Marshal(ev)
		if err != nil {
			b.log.Error().Err(err).Str("event", string(ev.Type)).Msg("marshal greeting")
			continue
		}
		s.queue <- envelope{event: ev, data: data}
	}
	return b.add(s)
}

// AddSink mirrors every event into sink. Sink errors are logged.
func (b *Bus) AddSink(sink Sink) func() {
	s := &subscriber{
		kind:  "sink:" + sink.Name(),
		queue: make(chan envelope, b.queueSize),
		done:  make(chan struct{}),
	}
	s.deliver = func(env envelope) bool {
		ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
		defer cancel()
		if err := sink.Consume(ctx, env.event); err != nil {
			b.log.Warn().Err(err).Str("sink", sink.Name()).Str("event", string(env.event.Type)).Msg("sink consume failed")
		}
		return true
	}
	return b.add(s)
}

func (b *Bus) add(s *subscriber) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	s.id = b.nextID.Add(1)
	b.subs[s.id] = s
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(s)

	return func() { b.remove(s.id) }
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case env := <-s.queue:
			if !s.deliver(env) {
				b.remove(s.id)
				return
			}
		}
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Subscribers returns the number of observers and sinks currently attached.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber and waits for their writers to exit.
// Events still queued are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	b.wg.Wait()
}
