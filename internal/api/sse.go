package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/igel-oss/rcar-du-vdrm/internal/events"
)

// sseEvents handles the SSE (Server-Sent Events) endpoint.
// Clients receive the current layout immediately, then display events as
// they happen. ?kinds=vblank,flip_complete selects the event kinds; vblank
// events are only sent when asked for.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	want := parseKinds(r.URL.Query().Get("kinds"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id := uuid.New().String()
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)

	sendSSE(w, flusher, "state", h.ctrl.State())

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if want(ev.Kind) {
				sendSSE(w, flusher, string(ev.Kind), ev)
			}
		case <-r.Context().Done():
			return
		}
	}
}

func parseKinds(s string) func(events.Kind) bool {
	if s == "" {
		return func(k events.Kind) bool { return k != events.KindVblank }
	}
	set := make(map[events.Kind]bool)
	for _, k := range strings.Split(s, ",") {
		set[events.Kind(strings.TrimSpace(k))] = true
	}
	return func(k events.Kind) bool { return set[k] }
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, name string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flusher.Flush()
}
