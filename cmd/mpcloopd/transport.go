//go:build !windows && !no_cgo

package main

import (
	"context"
	"sync"

	"github.com/SiChiTong/mpc/transport"
)

// inProcessTransport is a direct function-call transport.PubSub: Publish
// invokes every handler registered for that channel synchronously. It
// exists so this binary is runnable end to end without any real message
// bus, the same way a FakeBase/FakeLidar stands in for real hardware in
// a runnable demo.
type inProcessTransport struct {
	mu       sync.RWMutex
	handlers map[string][]func(ctx context.Context, value interface{})
}

func newInProcessTransport() *inProcessTransport {
	return &inProcessTransport{handlers: map[string][]func(ctx context.Context, value interface{}){}}
}

func (t *inProcessTransport) Subscribe(ctx context.Context, channel string, handler func(ctx context.Context, value interface{})) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[channel] = append(t.handlers[channel], handler)
	return nil
}

func (t *inProcessTransport) Publish(ctx context.Context, channel string, value interface{}) error {
	t.mu.RLock()
	handlers := append([]func(ctx context.Context, value interface{}){}, t.handlers[channel]...)
	t.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, value)
	}
	return nil
}

var _ transport.PubSub = (*inProcessTransport)(nil)
