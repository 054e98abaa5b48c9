package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/natssync/mstress/internal/config"
	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/origin"
)

// RequestObserver counts served requests by route pattern.
type RequestObserver interface {
	ObserveRequest(route string, status int)
}

type Router struct {
	handler          *Handler
	limiter          *RateLimiter
	events           http.Handler
	metrics          http.Handler
	observer         RequestObserver
	allowedOrigins   []string
	clientIPResolver *ClientIPResolver
}

func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

func (r *Router) SetRateLimiter(cfg *config.Config) {
	r.limiter = NewRateLimiter(cfg)
}

func (r *Router) SetClientIPResolver(resolver *ClientIPResolver) {
	r.clientIPResolver = resolver
}

func (r *Router) SetEventsHandler(h http.Handler) {
	r.events = h
}

func (r *Router) SetMetricsHandler(h http.Handler) {
	r.metrics = h
}

func (r *Router) SetRequestObserver(o RequestObserver) {
	r.observer = o
}

func (r *Router) SetAllowedOrigins(origins []string) {
	r.allowedOrigins = origins
}

func (r *Router) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	h := r.handler

	mux.HandleFunc("GET /{$}", h.Hello)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /version", h.GetVersion)

	mux.HandleFunc("GET /clients", h.GetClients)
	mux.HandleFunc("POST /clients", h.AddClient)
	mux.HandleFunc("DELETE /clients/{client}", h.RemoveClient)

	mux.HandleFunc("POST /tests", h.BatchTest)
	mux.HandleFunc("GET /tests/mps", h.AllMPSTest)
	mux.HandleFunc("GET /tests/{client}", h.EchoTest)
	mux.HandleFunc("GET /tests/{client}/mps", h.ClientMPSTest)

	if r.events != nil {
		mux.Handle("GET /events", r.events)
	}
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}

	// outermost runs first
	var handler http.Handler = mux
	if r.limiter != nil {
		handler = RateLimitMiddleware(r.limiter)(handler)
	}
	handler = r.CORSMiddleware(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = r.LoggingMiddleware(handler)

	return handler
}

func (r *Router) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		o := req.Header.Get("Origin")
		originAllowed := o != "" && origin.Allowed(r.allowedOrigins, o)
		if originAllowed {
			allowOrigin := o
			if origin.AllowsAll(r.allowedOrigins) {
				allowOrigin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if allowOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if req.Method == http.MethodOptions {
			if o != "" && !originAllowed {
				respondJSON(w, map[string]string{"error": "origin not allowed"}, http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs test and directory requests and reports every
// request to the observer, labelled by the matched route pattern.
func (r *Router) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		if r.observer != nil {
			r.observer.ObserveRequest(route, rw.statusCode)
		}

		if path == "/health" || path == "/metrics" || path == "/events" || strings.HasPrefix(path, "/debug/") {
			return
		}
		logging.Info("HTTP request",
			logging.F("method", req.Method),
			logging.F("path", path),
			logging.F("status", rw.statusCode),
			logging.F("duration_ms", float64(time.Since(start).Microseconds())/1000),
			logging.F("ip", r.resolveClientIP(req)),
		)
	})
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func (r *Router) resolveClientIP(req *http.Request) string {
	if r.clientIPResolver == nil {
		return ipString(parseRemoteIP(req.RemoteAddr))
	}
	return r.clientIPResolver.FromRequest(req)
}
