package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"example.com/conditioning/internal/store"
	logsync "example.com/conditioning/internal/sync"
)

// SyncHandler decodes store events from Kafka messages and applies them to
// the cache through the synchronizer. The event_type header selects the
// stream: "log.*" payloads are store.LogEvent, "user.*" payloads are
// store.UserEvent.
type SyncHandler struct {
	sync *logsync.Synchronizer
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(sync *logsync.Synchronizer) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Handle implements Handler. Undecodable payloads are returned as errors and
// surface in the processor's handler-error accounting; the synchronizer's own
// malformed-event handling covers structurally valid but incomplete events.
func (h *SyncHandler) Handle(ctx context.Context, msg Message) error {
	switch {
	case strings.HasPrefix(msg.EventType, "log."):
		var event store.LogEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return fmt.Errorf("decode log event: %w", err)
		}
		if event.Type == "" {
			event.Type = store.LogEventType(msg.EventType)
		}
		h.sync.ApplyLogEvent(ctx, event)
		return nil
	case strings.HasPrefix(msg.EventType, "user."):
		var event store.UserEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return fmt.Errorf("decode user event: %w", err)
		}
		if event.Type == "" {
			event.Type = store.UserEventType(msg.EventType)
		}
		h.sync.ApplyUserEvent(ctx, event)
		return nil
	default:
		return fmt.Errorf("unknown event type %q", msg.EventType)
	}
}
