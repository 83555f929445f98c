package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/conditioning/internal/store"
)

// Schema ids for the event subjects, registered out of band. Consumers only
// echo the id; payloads are JSON.
const (
	logEventSchemaID  = 1
	userEventSchemaID = 2
)

// Writer is the minimal kafka.Writer surface used by the Publisher. Messages
// carry their topic, so a single topic-less writer serves both streams.
type Writer interface {
	WriteMessages(context.Context, ...kafka.Message) error
}

// PublisherOption configures optional behaviour for the Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger overrides the logger used to report delivery failures.
func WithPublisherLogger(logger *log.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// Publisher subscribes to the stores' in-process update streams and delivers
// each event to Kafka in the wire format the Processor decodes. Delivery is
// at-least-once from the subscriber buffer; consumers apply events
// idempotently by id.
type Publisher struct {
	writer     Writer
	logTopic   string
	userTopic  string
	logEvents  store.LogEventSource
	userEvents store.UserEventSource
	logger     *log.Logger

	mu      sync.Mutex
	cancels []func()
	wg      sync.WaitGroup
}

// NewPublisher constructs a Publisher. A nil source is skipped.
func NewPublisher(writer Writer, logTopic, userTopic string, logEvents store.LogEventSource, userEvents store.UserEventSource, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		writer:     writer,
		logTopic:   logTopic,
		userTopic:  userTopic,
		logEvents:  logEvents,
		userEvents: userEvents,
		logger:     log.New(log.Writer(), "[stream] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start registers the store subscriptions and publishes their events until
// Stop is called or the context is cancelled.
func (p *Publisher) Start(ctx context.Context) {
	if p.logEvents != nil {
		logCh, cancelLogs := p.logEvents.SubscribeLogs()
		p.mu.Lock()
		p.cancels = append(p.cancels, cancelLogs)
		p.mu.Unlock()

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-logCh:
					if !ok {
						return
					}
					p.publishLogEvent(ctx, event)
				}
			}
		}()
	}

	if p.userEvents != nil {
		userCh, cancelUsers := p.userEvents.SubscribeUsers()
		p.mu.Lock()
		p.cancels = append(p.cancels, cancelUsers)
		p.mu.Unlock()

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-userCh:
					if !ok {
						return
					}
					p.publishUserEvent(ctx, event)
				}
			}
		}()
	}
}

// Stop releases the subscriptions and waits for the delivery loops to drain.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	p.wg.Wait()
}

func (p *Publisher) publishLogEvent(ctx context.Context, event store.LogEvent) {
	msg, err := encodeLogEvent(p.logTopic, event)
	if err != nil {
		p.logger.Printf("encode log event %s/%s: %v", event.Type, event.LogID, err)
		recordPublishError(p.logTopic)
		return
	}
	p.write(ctx, msg, string(event.Type))
}

func (p *Publisher) publishUserEvent(ctx context.Context, event store.UserEvent) {
	msg, err := encodeUserEvent(p.userTopic, event)
	if err != nil {
		p.logger.Printf("encode user event %s/%s: %v", event.Type, event.User.UserID, err)
		recordPublishError(p.userTopic)
		return
	}
	p.write(ctx, msg, string(event.Type))
}

func (p *Publisher) write(ctx context.Context, msg kafka.Message, eventType string) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Printf("deliver %s to %s: %v", eventType, msg.Topic, err)
		recordPublishError(msg.Topic)
		return
	}
	recordPublished(msg.Topic, eventType)
}

func encodeLogEvent(topic string, event store.LogEvent) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(event.LogID),
		Value:   encodeWireFormat(logEventSchemaID, payload),
		Time:    time.Now().UTC(),
		Headers: eventHeaders(topic, string(event.Type)),
	}, nil
}

func encodeUserEvent(topic string, event store.UserEvent) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(event.User.UserID),
		Value:   encodeWireFormat(userEventSchemaID, payload),
		Time:    time.Now().UTC(),
		Headers: eventHeaders(topic, string(event.Type)),
	}, nil
}

func eventHeaders(topic, eventType string) []kafka.Header {
	return []kafka.Header{
		{Key: "event_type", Value: []byte(eventType)},
		{Key: "schema_subject", Value: []byte(topic + "-value")},
	}
}

// encodeWireFormat prefixes the payload with the registry frame: magic byte 0
// followed by the big-endian schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
