package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "remindbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost layer.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// handlerChain is the stack every command and callback runs in: logging
// outermost, then the error reply, panic recovery and the deadline.
func handlerChain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return Chain(h, logRequest, replyOnError, recoverPanic, withTimeout(timeout))
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func recoverPanic(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if r := recover(); r != nil {
				req.Logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(ctx, req)
	}
}

// replyOnError tells the user something went wrong when a handler returns an
// error without having answered. The reply outlives the handler deadline.
func replyOnError(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		err := next(ctx, req)
		if err == nil || req.Adapter == nil {
			return err
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := req.Reply(rctx, MsgFailed, nil); rerr != nil {
			req.Logger.Debug("error reply failed", logx.Err(rerr))
		}
		return err
	}
}

func logRequest(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		d := time.Since(start)
		if err != nil {
			req.Logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
			return err
		}
		// Slow requests are worth seeing at INFO.
		if d >= 750*time.Millisecond {
			req.Logger.Info("request ok", logx.Duration("dur", d))
		} else {
			req.Logger.Debug("request ok", logx.Duration("dur", d))
		}
		return err
	}
}
