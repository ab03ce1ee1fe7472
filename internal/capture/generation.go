package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrInterrupted is the cancellation cause of contexts bound to a generation
// that has been interrupted.
var ErrInterrupted = errors.New("capture: interrupted")

// Generation is the interrupt token shared by the dispatcher and downstream
// consumers. It is a monotonically increasing counter: [Generation.Interrupt]
// advances it and cancels every context bound to an earlier value.
//
// Downstream steps capture the value when they start and call
// [Generation.Stale] before publishing anything. Cancellation is best effort;
// the Stale check is what guarantees an interrupted result is never applied.
type Generation struct {
	mu     sync.Mutex
	n      uint64
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewGeneration returns a counter at zero.
func NewGeneration() *Generation {
	g := &Generation{}
	g.ctx, g.cancel = context.WithCancelCause(context.Background())
	return g
}

// Current returns the current generation.
func (g *Generation) Current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Stale reports whether gen has been superseded by an interrupt.
func (g *Generation) Stale(gen uint64) bool {
	return g.Current() != gen
}

// Interrupt advances the generation, cancels contexts bound to the previous
// one, and returns the new value.
func (g *Generation) Interrupt() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel(ErrInterrupted)
	g.n++
	g.ctx, g.cancel = context.WithCancelCause(context.Background())
	return g.n
}

// Bind returns a child of parent tied to the current generation, and that
// generation. The child is cancelled with cause [ErrInterrupted] by the next
// Interrupt. The returned cancel func must be called when the work is done.
func (g *Generation) Bind(parent context.Context) (context.Context, uint64, context.CancelFunc) {
	g.mu.Lock()
	gen, genCtx := g.n, g.ctx
	g.mu.Unlock()

	ctx, cancel := context.WithCancelCause(parent)
	stop := context.AfterFunc(genCtx, func() { cancel(ErrInterrupted) })
	return ctx, gen, func() {
		stop()
		cancel(context.Canceled)
	}
}
