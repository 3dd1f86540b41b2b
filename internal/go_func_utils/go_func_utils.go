// Package go_func_utils starts goroutines whose panics end up in the log file.
package go_func_utils

import (
	"log"
	"runtime/debug"
)

// SafeGo runs fn on a new goroutine. A panic is logged with its stack and
// then re-raised, stderr is usually not visible when running headless.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}

// SafeGoRecover runs fn on a new goroutine and logs a panic instead of
// crashing. Used for timer bodies, which have no caller to report to.
func SafeGoRecover(logger *log.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC in %s (recovered): %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
