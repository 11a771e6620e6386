// Package dep checks the dependencies handed to constructors.
package dep

import (
	"fmt"
	"reflect"
	"runtime"
)

// Required returns t, or panics naming the constructor that was handed a
// nil.  A typed nil (a nil *Notifier in a Publisher, say) counts as missing.
func Required[T any](t T) T {
	if !missing(reflect.ValueOf(t)) {
		return t
	}
	where := "unknown caller"
	if pc, file, line, ok := runtime.Caller(1); ok {
		where = fmt.Sprintf("%s:%d", file, line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			where = fmt.Sprintf("%s (%s)", fn.Name(), where)
		}
	}
	panic(fmt.Sprintf("missing required %T dependency in %s", t, where))
}

func missing(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
