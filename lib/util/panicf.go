package util

import (
	"fmt"
)

// Panicf allows passing formated string to panic()
func Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// Assertf panics with the formatted message when cond is false. It guards
// invariants whose violation means in-process state is already corrupt.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		Panicf("invariant violated: "+format, args...)
	}
}
