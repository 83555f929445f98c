package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/store"
	"example.com/conditioning/internal/store/memory"
)

type capturingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *capturingWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

func TestPublisherDeliversStoreEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logs := memory.NewLogStore()
	users := memory.NewUserStore()
	writer := &capturingWriter{}

	publisher := NewPublisher(writer, "conditioning_log_events", "conditioning_user_events",
		logs, users, WithPublisherLogger(log.New(testWriter{t}, "", 0)))
	publisher.Start(ctx)
	defer publisher.Stop()

	logID, err := logs.Create(ctx, domain.ConditioningLog{
		UserID:   "user-1",
		Activity: domain.ActivityRun,
		Start:    time.Now().UTC(),
		Duration: domain.Quantity{Value: 1800, Unit: "s"},
	})
	require.NoError(t, err)

	users.Seed(domain.User{EntityID: "ent-1", UserID: "user-1"})
	require.NoError(t, users.Update(ctx, domain.User{EntityID: "ent-1", UserID: "user-1", Logs: []string{logID}}))

	require.Eventually(t, func() bool {
		return len(writer.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// The two streams pump through independent goroutines, so arrival order
	// across topics is not fixed.
	byTopic := make(map[string]kafka.Message)
	for _, msg := range writer.snapshot() {
		byTopic[msg.Topic] = msg
	}

	logMsg, ok := byTopic["conditioning_log_events"]
	require.True(t, ok)
	require.Equal(t, []byte(logID), logMsg.Key)

	decoded, err := decodeMessage(logMsg)
	require.NoError(t, err)
	require.Equal(t, "log.created", decoded.EventType)
	require.Equal(t, "conditioning_log_events-value", decoded.SchemaSubject)
	require.Equal(t, logEventSchemaID, decoded.SchemaID)

	var logEvent store.LogEvent
	require.NoError(t, json.Unmarshal(decoded.Payload, &logEvent))
	require.Equal(t, store.LogCreated, logEvent.Type)
	require.Equal(t, logID, logEvent.LogID)
	require.NotNil(t, logEvent.Log)
	require.Equal(t, "user-1", logEvent.Log.UserID)

	userMsg, ok := byTopic["conditioning_user_events"]
	require.True(t, ok)
	require.Equal(t, []byte("user-1"), userMsg.Key)

	decoded, err = decodeMessage(userMsg)
	require.NoError(t, err)
	require.Equal(t, "user.updated", decoded.EventType)
	require.Equal(t, userEventSchemaID, decoded.SchemaID)

	var userEvent store.UserEvent
	require.NoError(t, json.Unmarshal(decoded.Payload, &userEvent))
	require.Equal(t, []string{logID}, userEvent.User.Logs)
}

func TestPublisherSkipsNilSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &capturingWriter{}
	publisher := NewPublisher(writer, "conditioning_log_events", "conditioning_user_events",
		nil, nil, WithPublisherLogger(log.New(testWriter{t}, "", 0)))

	publisher.Start(ctx)
	publisher.Stop()
	require.Empty(t, writer.snapshot())
}
