package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
)

const keepAliveInterval = 15 * time.Second

// parseFeeds reads ?feeds=tab,port. An empty query selects every feed; an
// unknown name is an error so typos do not silently produce an idle stream.
func parseFeeds(q string) (map[string]bool, error) {
	if q == "" {
		return nil, nil
	}
	feeds := make(map[string]bool)
	for _, f := range strings.Split(q, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !slices.Contains(knownFeeds, f) {
			return nil, fmt.Errorf("unknown feed %q (want one of %s)", f, strings.Join(knownFeeds, ", "))
		}
		feeds[f] = true
	}
	if len(feeds) == 0 {
		return nil, nil
	}
	return feeds, nil
}

// SSEHandler streams overlay traffic. Each frame carries the feed as its
// event name and a per-stream sequence id; idle streams get a comment line
// every keepAliveInterval so proxies keep the connection open.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feeds, err := parseFeeds(r.URL.Query().Get("feeds"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)
		slog.Debug("traffic feed subscriber attached", "subscriber", id, "remote", r.RemoteAddr)

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		var seq int64
		for {
			select {
			case <-r.Context().Done():
				slog.Debug("traffic feed subscriber detached", "subscriber", id, "sent", seq)
				return
			case <-keepAlive.C:
				fmt.Fprintf(w, ": keepalive dropped=%d\n\n", broker.Dropped())
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if feeds != nil && !feeds[evt.Feed] {
					continue
				}
				seq++
				fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", evt.Feed, seq, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
