// Package router is a small method-aware HTTP router with wildcard path
// segments and request logging.
package router

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type route struct {
	method   string
	pattern  string
	segments []string
	handler  http.HandlerFunc
}

// Router dispatches on method and path. A "*" segment matches exactly one
// path segment. Routes are tried in registration order.
type Router struct {
	logger log.Logger
	mux    *http.ServeMux
	routes []route
}

type wildcardsKey struct{}

// New returns a router that logs every request to logger.
func New(logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Router{logger: logger, mux: http.NewServeMux()}
	r.mux.HandleFunc("/", r.dispatch)
	return r
}

// Wildcards returns the path segments matched by the "*" segments of the
// route serving req, in order.
func Wildcards(req *http.Request) []string {
	w, _ := req.Context().Value(wildcardsKey{}).([]string)
	return w
}

// Wildcard returns the i-th wildcard value, or "" when absent.
func Wildcard(req *http.Request, i int) string {
	w := Wildcards(req)
	if i < 0 || i >= len(w) {
		return ""
	}
	return w[i]
}

// Handle registers handler for method and pattern.
func (r *Router) Handle(method, pattern string, handler http.HandlerFunc) {
	r.routes = append(r.routes, route{
		method:   method,
		pattern:  pattern,
		segments: split(pattern),
		handler:  handler,
	})
}

func (r *Router) GET(pattern string, handler http.HandlerFunc) {
	r.Handle(http.MethodGet, pattern, handler)
}

func (r *Router) POST(pattern string, handler http.HandlerFunc) {
	r.Handle(http.MethodPost, pattern, handler)
}

func (r *Router) PATCH(pattern string, handler http.HandlerFunc) {
	r.Handle(http.MethodPatch, pattern, handler)
}

func (r *Router) DELETE(pattern string, handler http.HandlerFunc) {
	r.Handle(http.MethodDelete, pattern, handler)
}

// Mount serves every request under prefix with h, for any method.
func (r *Router) Mount(prefix string, h http.Handler) {
	r.mux.Handle(prefix, r.logged(h.ServeHTTP))
}

// Patterns lists the registered "METHOD pattern" pairs in order.
func (r *Router) Patterns() []string {
	out := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt.method+" "+rt.pattern)
	}
	return out
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) dispatch(w http.ResponseWriter, req *http.Request) {
	r.logged(r.route)(w, req)
}

func (r *Router) route(w http.ResponseWriter, req *http.Request) {
	path := split(req.URL.Path)
	pathKnown := false
	for _, rt := range r.routes {
		wildcards, ok := match(path, rt.segments)
		if !ok {
			continue
		}
		if rt.method != req.Method {
			pathKnown = true
			continue
		}
		ctx := context.WithValue(req.Context(), wildcardsKey{}, wildcards)
		rt.handler(w, req.WithContext(ctx))
		return
	}
	if pathKnown {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}

func (r *Router) logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(lrw, req)

		l := level.Info(r.logger)
		if lrw.statusCode >= http.StatusInternalServerError {
			l = level.Error(r.logger)
		}
		l.Log("msg", "request", "method", req.Method, "path", req.URL.Path,
			"status", lrw.statusCode, "duration", time.Since(start))
	}
}

// Serve listens on addr until ctx ends, then shuts the server down.
func (r *Router) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		level.Info(r.logger).Log("msg", "server started", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// match reports whether path matches the route segments and returns the
// values captured by its wildcards.
func match(path, segments []string) ([]string, bool) {
	if len(path) != len(segments) {
		return nil, false
	}
	var wildcards []string
	for i, seg := range segments {
		switch {
		case seg == "*":
			wildcards = append(wildcards, path[i])
		case seg != path[i]:
			return nil, false
		}
	}
	return wildcards, true
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
