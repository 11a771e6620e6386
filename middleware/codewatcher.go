package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

var (
	_ http.ResponseWriter = &codeWatcher{}
	_ http.Hijacker       = &codeWatcher{}
	_ http.Flusher        = &codeWatcher{}
)

// codeWatcher remembers the status code and body size for the access log.
type codeWatcher struct {
	code    int
	written int64
	w       http.ResponseWriter
}

func (cw *codeWatcher) Header() http.Header {
	return cw.w.Header()
}

func (cw *codeWatcher) Write(b []byte) (int, error) {
	if cw.code == 0 {
		cw.code = http.StatusOK
	}
	n, err := cw.w.Write(b)
	cw.written += int64(n)
	return n, err
}

func (cw *codeWatcher) WriteHeader(statusCode int) {
	if cw.code == 0 {
		cw.code = statusCode
	}
	cw.w.WriteHeader(statusCode)
}

func (cw *codeWatcher) Code() int {
	if cw.code == 0 {
		return http.StatusOK
	}
	return cw.code
}

func (cw *codeWatcher) Written() int64 {
	return cw.written
}

// Hijack lets websocket upgrades through.
func (cw *codeWatcher) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := cw.w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer can't be hijacked")
	}
	if cw.code == 0 {
		cw.code = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (cw *codeWatcher) Flush() {
	if f, ok := cw.w.(http.Flusher); ok {
		f.Flush()
	}
}
