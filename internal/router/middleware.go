package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "github.com/scturtle/turtlebot/pkg/logx"
)

// slowRequest promotes the success log line from debug to info.
const slowRequest = 750 * time.Millisecond

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain applies mws around h; the first middleware sees the request first.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	wrapped := h
	for i := range mws {
		wrapped = mws[len(mws)-1-i](wrapped)
	}
	return wrapped
}

// WithTimeout bounds the handler context. Zero leaves it unbounded.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// Recover turns a handler panic into an error and logs its stack.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Log.Error("command panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("command panicked: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// LogRequest writes one line per handled command.
func LogRequest() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			elapsed := time.Since(began)
			took := logx.Duration("took", elapsed)
			switch {
			case err != nil:
				req.Log.Warn("command failed", took, logx.Err(err))
			case elapsed >= slowRequest:
				req.Log.Info("command done", took)
			default:
				req.Log.Debug("command done", took)
			}
			return err
		}
	}
}
