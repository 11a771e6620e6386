/*
Package varz makes expvar counters named after the package that declares
them, so the scheduler's "ticks" shows up as "scheduler.ticks" in
/debug/vars.
*/
package varz

import (
	"expvar"
	"net/http"
	"runtime"
	"strings"
)

// callerPackage names the package of whoever called NewInt.  Function names
// look like "github.com/ts4z/floorman/scheduler.init" or
// "github.com/ts4z/floorman/webapp.(*App).handleListen.func1"; we want
// "scheduler" or "webapp".
func callerPackage() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	n := fn.Name()
	if slash := strings.LastIndex(n, "/"); slash != -1 {
		n = n[slash+1:]
	}
	if dot := strings.Index(n, "."); dot != -1 {
		n = n[:dot]
	}
	return n
}

func NewInt(name string) *expvar.Int {
	return expvar.NewInt(callerPackage() + "." + name)
}

// Handler serves every published variable as JSON.
func Handler() http.Handler {
	return expvar.Handler()
}
