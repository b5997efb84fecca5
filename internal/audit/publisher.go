package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	id "fides/pkg/domain"
	"fides/pkg/requestcontext"
)

// Sink receives events beyond the primary store (e.g. a Kafka topic per
// category). Sink failures are logged, never propagated: losing a copy must
// not fail the operation that produced the event.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Publisher enriches events from request context and writes them to the
// store, synchronously by default or through a buffered channel with
// WithAsyncBuffer. Close drains the buffer.
type Publisher struct {
	store  Store
	sinks  []Sink
	logger *slog.Logger

	inbox chan Event
	done  chan struct{}
	once  sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous mode with the given
// buffer size. When the buffer is full events are dropped with a log line
// rather than blocking the request path.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

// WithSink adds a fan-out sink.
func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		go p.drain()
	}
	return p
}

// Emit records an event, stamping timestamp, ID, and request-context
// enrichment when absent.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.ClientApp == "" {
		event.ClientApp = requestcontext.ClientApp(ctx)
	}
	if event.ActorID == "" {
		if op := requestcontext.OperatorID(ctx); !op.IsNil() {
			event.ActorID = op.String()
		}
	}
	// Security events keep the full User-Agent for forensics; other
	// categories carry only the condensed client app.
	if event.Category == CategorySecurity && event.Payload["user_agent"] == "" {
		if ua := requestcontext.UserAgent(ctx); ua != "" {
			if event.Payload == nil {
				event.Payload = make(map[string]string, 1)
			}
			event.Payload["user_agent"] = ua
		}
	}

	if p.inbox == nil {
		return p.persist(context.WithoutCancel(ctx), event)
	}

	select {
	case p.inbox <- event:
		return nil
	default:
		p.logger.Warn("audit buffer full, event dropped",
			"session_id", event.SessionID,
			"kind", event.Kind,
		)
		return nil
	}
}

// List returns the trail for a session.
func (p *Publisher) List(ctx context.Context, sessionID id.SessionID) ([]Event, error) {
	return p.store.ListBySession(ctx, sessionID)
}

// Close drains the async buffer and stops the worker. Safe to call on a
// synchronous publisher and safe to call twice.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			<-p.done
		}
	})
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.persist(ctx, event); err != nil {
			p.logger.Error("audit append failed",
				"session_id", event.SessionID,
				"kind", event.Kind,
				"error", err,
			)
		}
		cancel()
	}
}

func (p *Publisher) persist(ctx context.Context, event Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			p.logger.Warn("audit sink publish failed",
				"session_id", event.SessionID,
				"kind", event.Kind,
				"error", err,
			)
		}
	}
	return nil
}
