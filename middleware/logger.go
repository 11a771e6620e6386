package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Clock interface {
	Now() time.Time
}

// RequestLogger writes one access line per request.  Server errors log at
// error level and client errors at warn; health checks only show up at
// debug.
type RequestLogger struct {
	next  http.Handler
	clock Clock
}

func NewRequestLogger(next http.Handler, clock Clock) *RequestLogger {
	return &RequestLogger{next: next, clock: clock}
}

// remoteAddr prefers the first X-Forwarded-For hop, which is the client
// when we're behind a load balancer.
func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}

func accessLevel(path string, code int) zerolog.Level {
	switch {
	case code >= 500:
		return zerolog.ErrorLevel
	case code >= 400:
		return zerolog.WarnLevel
	case path == "/healthz":
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

func (rl *RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := rl.clock.Now()
	ww := &codeWatcher{w: w}
	rl.next.ServeHTTP(ww, r)
	log.WithLevel(accessLevel(r.URL.Path, ww.Code())).
		Int("status", ww.Code()).
		Int64("bytes", ww.Written()).
		Str("method", r.Method).
		Str("remote_addr", remoteAddr(r)).
		Str("path", r.URL.Path).
		Dur("duration", rl.clock.Now().Sub(start)).
		Msg("access")
}
