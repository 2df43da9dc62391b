package safe

import (
	"runtime/debug"

	"PPRelay/logger"

	"go.uber.org/zap"
)

// Go starts f in a goroutine that recovers and logs a panic instead of
// crashing the process.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover must be deferred directly.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[SafeGo] panic recovered",
			zap.String("task", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
	}
}
