// Package onclose runs callbacks after an HTTP response has been sent.
//
// The HTTP layer attaches a Hooks value to the request context before calling
// the handler and calls Run once the handler returned and the response was
// flushed. Code deeper in the stack registers work with Register.
package onclose

import (
	"context"
	"sync"
)

type ctxKey struct{}

type Hooks struct {
	mu    sync.Mutex
	fns   []func()
	ran   bool
	panic func(recovered any)
}

// New returns a context carrying a fresh Hooks. onPanic receives the value
// of a panicking callback, the remaining callbacks still run.
func New(ctx context.Context, onPanic func(recovered any)) (context.Context, *Hooks) {
	h := &Hooks{panic: onPanic}
	return context.WithValue(ctx, ctxKey{}, h), h
}

// Register queues fn on the hooks of ctx. It returns false when ctx carries
// no hooks or they already ran, the caller then has to run fn itself.
func Register(ctx context.Context, fn func()) bool {
	h, ok := ctx.Value(ctxKey{}).(*Hooks)
	if !ok {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		return false
	}
	h.fns = append(h.fns, fn)
	return true
}

// Run calls the registered callbacks in registration order. Only the first call has an effect.
func (h *Hooks) Run() {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return
	}
	h.ran = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		h.call(fn)
	}
}

func (h *Hooks) call(fn func()) {
	defer func() {
		if r := recover(); r != nil && h.panic != nil {
			h.panic(r)
		}
	}()
	fn()
}
