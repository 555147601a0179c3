package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devghori1264/aerophoenix/vkd/internal/events"
)

// streamSSE writes every item from sub as a server-sent event until the
// client goes away or the subscription ends. sub is closed on return.
func streamSSE[T any](w http.ResponseWriter, r *http.Request, sub *events.Subscription[T], keepAlive time.Duration, encode func(T) any) {
	defer sub.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case v, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(encode(v))
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
