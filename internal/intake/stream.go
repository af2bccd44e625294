package intake

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/spidercast/spidercast/internal/envelope"
)

// streamCrawl handles GET /api/crawl/stream/{task_id}. It relays broadcast
// envelopes for one task as server-sent events over a private broadcast tap,
// so concurrent streams never steal each other's messages. The stream opens
// with a "connected" event, emits one event per envelope named after its
// messageType, and closes with an "end" event once a terminal status for the
// task is observed.
func (s *Server) streamCrawl(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	messages, err := s.bus.Subscribe(ctx)
	if err != nil {
		s.logger.Error("broadcast subscribe failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "broadcast subscribe failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "connected", fmt.Sprintf(`{"taskId":%q}`, taskID))
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-messages:
			if !open {
				return
			}
			var env envelope.Envelope
			if err := json.Unmarshal(msg.Body, &env); err != nil {
				s.logger.Warn("dropping undecodable broadcast", zap.Error(err))
				continue
			}
			if env.TaskID != taskID {
				continue
			}
			writeEvent(w, string(env.MessageType), string(msg.Body))
			flusher.Flush()
			if isTerminal(env) {
				writeEvent(w, "end", fmt.Sprintf(`{"taskId":%q}`, taskID))
				flusher.Flush()
				return
			}
		}
	}
}

func isTerminal(env envelope.Envelope) bool {
	if env.MessageType != envelope.TypeStatus {
		return false
	}
	var status envelope.StatusPayload
	if err := json.Unmarshal(env.Payload, &status); err != nil {
		return false
	}
	switch status.Status {
	case envelope.StatusDone, envelope.StatusStopped, envelope.StatusError:
		return true
	}
	return false
}

func writeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
