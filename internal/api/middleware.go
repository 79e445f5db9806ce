package api

import (
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type routeKind int

const (
	routeAPI routeKind = iota
	routePoll
	routeStream
	routeExtension
	routeVault
)

func classifyRoute(r *http.Request) routeKind {
	p := r.URL.Path
	switch {
	case p == "/ws/extension":
		return routeExtension
	case p == "/events":
		return routeStream
	case strings.HasPrefix(p, "/api/v1/vault") && r.Method != http.MethodGet:
		return routeVault
	case p == "/health", p == "/docs", strings.HasPrefix(p, "/openapi"), r.Method == http.MethodGet:
		return routePoll
	default:
		return routeAPI
	}
}

// requestLogger logs one line per request. Polls are Debug. The extension
// websocket and the SSE feed log when they open, since their handlers block
// for the life of the connection. Vault mutations log the action only;
// bodies and query strings are never logged.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		kind := classifyRoute(r)
		reqID := middleware.GetReqID(r.Context())

		switch kind {
		case routeExtension:
			slog.Info("extension shim upgrade", "remote", r.RemoteAddr, "request_id", reqID)
		case routeStream:
			slog.Debug("traffic feed opened", "remote", r.RemoteAddr, "request_id", reqID)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", reqID,
		}
		switch kind {
		case routeExtension:
			slog.Info("extension shim session ended", attrs...)
		case routeStream:
			slog.Info("traffic feed closed", append(attrs, "bytes", ww.BytesWritten())...)
		case routeVault:
			attrs = append(attrs, "action", path.Base(r.URL.Path))
			if ww.Status() >= http.StatusBadRequest {
				slog.Warn("vault request rejected", attrs...)
			} else {
				slog.Info("vault request", attrs...)
			}
		case routePoll:
			slog.Debug("http request", append(attrs, "bytes", ww.BytesWritten())...)
		default:
			slog.Info("http request", append(attrs, "bytes", ww.BytesWritten())...)
		}
	})
}
