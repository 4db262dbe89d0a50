package concurrency

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo runs a named background worker in a goroutine with panic recovery.
// The engine only spawns a handful of these (embedding warm-up, task
// recording, reminder ticks, input polling); every one goes through here so
// a panic can never take the service loop down.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				slog.Error("Panic recovered in background worker", "worker", name, "panic", r, "stack", string(stack))
			}
		}()
		fn()
	}()
}
