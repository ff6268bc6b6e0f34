package safe

import (
	"PPRelay/logger"
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// Go starts f in a goroutine that recovers and logs panics.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Call runs f and converts a panic into an error.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}

// Recover must be deferred directly.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[safe] panic recovered", zap.String("where", name), zap.Error(errs.ErrPanic(r)))
	}
}
