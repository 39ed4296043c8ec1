// Package goroutine guards detached goroutines against panics.
package goroutine

import (
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"

	"vigil/metrics"
)

// Recover logs a panic from the surrounding goroutine instead of letting it
// crash the process, and counts it under the component label. Defer it first
// thing in any goroutine the engine or pipeline detaches. A nil logger falls
// back to stderr so the panic is still recorded.
func Recover(component string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}
	metrics.GoroutinePanics.WithLabelValues(component).Inc()
	stack := debug.Stack()
	if logger == nil {
		fmt.Fprintf(os.Stderr, "panic in %s: %v\n%s\n", component, r, stack)
		return
	}
	logger.Errorw("Recovered goroutine panic",
		"component", component,
		"panic", r,
		"stack", string(stack))
}
