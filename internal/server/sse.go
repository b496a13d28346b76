package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/snow-ai/snow/internal/event"
	"github.com/snow-ai/snow/internal/logging"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseEvent is the wire shape of one event sent to clients.
type sseEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// handleEvents establishes an SSE connection: sends a connected event with a
// connection id, then streams runtime events translated to the transport's
// event vocabulary.
func (srv *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	connID := ulid.Make().String()
	if err := sse.writeEvent("message", sseEvent{Type: "connected", Data: map[string]string{"connectionId": connID}}); err != nil {
		return
	}

	events := make(chan event.Event, 64)
	unsub := event.SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
			logging.Warn().Str("eventType", string(e.Type)).Msg("sse event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			wire, ok := translateEvent(e)
			if !ok {
				continue
			}
			if err := sse.writeEvent("message", wire); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// translateEvent maps internal bus events onto the transport vocabulary:
// message, tool_call, tool_result, thinking, usage, error, complete,
// tool_confirmation_request. The connected event is written by handleEvents.
func translateEvent(e event.Event) (sseEvent, bool) {
	switch e.Type {
	case event.ContentDelta:
		return sseEvent{Type: "message", Data: e.Data}, true
	case event.ReasoningDelta:
		return sseEvent{Type: "thinking", Data: e.Data}, true
	case event.ToolCallStarted, event.ToolCallUpdated, event.ToolOutputLines:
		return sseEvent{Type: "tool_call", Data: e.Data}, true
	case event.ToolCallFinished:
		return sseEvent{Type: "tool_result", Data: e.Data}, true
	case event.UsageUpdated:
		return sseEvent{Type: "usage", Data: e.Data}, true
	case event.TurnDone, event.TurnCancelled:
		return sseEvent{Type: "complete", Data: e.Data}, true
	case event.TurnFailed:
		return sseEvent{Type: "error", Data: e.Data}, true
	case event.PermissionRequired:
		// Clients echo requestId in their confirmation response.
		if d, ok := e.Data.(event.PermissionRequiredData); ok {
			return sseEvent{Type: "tool_confirmation_request", Data: map[string]any{
				"requestId":    d.ID,
				"sessionId":    d.SessionID,
				"tool":         d.Tool,
				"arguments":    d.Arguments,
				"batchedTools": d.BatchedTools,
				"sensitive":    d.Sensitive,
				"sensitiveDoc": d.SensitiveDoc,
				"repeated":     d.Repeated,
				"options":      d.Options,
			}}, true
		}
		return sseEvent{Type: "tool_confirmation_request", Data: e.Data}, true
	default:
		return sseEvent{}, false
	}
}
