// Package consumer reads venue events from Kafka and hands them to a Handler.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of a Kafka record emitted by the outbox dispatcher.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	OwnerID       string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// ErrMalformedEvent marks a handler failure that no retry can fix. Such
// messages are committed and skipped.
var ErrMalformedEvent = errors.New("malformed event")

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) Option {
	return func(p *Processor) {
		p.fetchBackoff = d
	}
}

// WithHandlerRetry sets how many times a failing message is handled before
// Run gives up, and the base pause between attempts (doubled each retry).
func WithHandlerRetry(attempts int, backoff time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.handleAttempts = attempts
		}
		p.handleBackoff = backoff
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader         Reader
	handler        Handler
	logger         *slog.Logger
	fetchBackoff   time.Duration
	handleAttempts int
	handleBackoff  time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:         reader,
		handler:        handler,
		logger:         slog.Default().With(slog.String("component", "consumer")),
		fetchBackoff:   time.Second,
		handleAttempts: 5,
		handleBackoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes Kafka messages until ctx is cancelled. A message is committed
// once handled; messages that fail to decode, or that the handler reports as
// ErrMalformedEvent, are committed and skipped. When the handler keeps failing
// after every retry, Run returns the error without committing so the message
// is redelivered once the consumer restarts.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Error("fetch error", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.fetchBackoff):
			}
			continue
		}

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Warn("decode error",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", decodeErr),
			)
			recordDecodeError(msg.Topic)
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Error("commit error after decode failure", slog.Any("error", commitErr))
			}
			continue
		}

		if handleErr := p.handle(ctx, event); handleErr != nil {
			recordHandlerError(event)
			if !errors.Is(handleErr, ErrMalformedEvent) {
				// Leave the offset uncommitted so the group redelivers it after restart.
				return fmt.Errorf("handle %s partition=%d offset=%d: %w", msg.Topic, msg.Partition, msg.Offset, handleErr)
			}
			p.logger.Warn("skipping malformed event",
				slog.String("event_type", event.EventType),
				slog.String("owner_id", event.OwnerID),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", handleErr),
			)
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Error("commit error after malformed event", slog.Any("error", commitErr))
			}
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Error("commit error", slog.Any("error", commitErr))
			continue
		}
		recordProcessed(event)
	}
}

// handle retries transient handler failures with exponential backoff.
func (p *Processor) handle(ctx context.Context, event Message) error {
	delay := p.handleBackoff
	var err error
	for attempt := 1; attempt <= p.handleAttempts; attempt++ {
		if err = p.handler.Handle(ctx, event); err == nil || errors.Is(err, ErrMalformedEvent) {
			return err
		}
		p.logger.Error("handler error",
			slog.String("event_type", event.EventType),
			slog.String("owner_id", event.OwnerID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt == p.handleAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) < 5 {
		return Message{}, fmt.Errorf("invalid payload length: %d", len(msg.Value))
	}
	if msg.Value[0] != 0 {
		return Message{}, fmt.Errorf("unknown wire format magic byte %d", msg.Value[0])
	}

	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}
	ownerID, _ := headerValue(msg, "owner_id")
	schemaSubject, _ := headerValue(msg, "schema_subject")

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		OwnerID:       string(ownerID),
		SchemaSubject: string(schemaSubject),
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
