// Package httpapi wires the chi router exposing the chat-stream and
// document endpoints over the orchestrator, composing the
// internal/middleware stack (auth, cors, logging, monitoring, timeout) to
// stream Server-Sent Events rather than plain JSON chat responses.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ragcore/qacore/internal/orchestrator"
)

// writeSSE writes one Server-Sent Event frame and flushes it immediately,
// so the client sees each event as the orchestrator produces it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev orchestrator.Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("httpapi: marshal sse event %s: %w", ev.Kind, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
