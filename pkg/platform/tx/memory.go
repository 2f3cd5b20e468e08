package tx

import (
	"context"
	"sync"
)

type memoryTxKey struct{}

// MemoryRunner serializes units of work with a single mutex. It backs the
// in-memory stores, where full serial execution is the isolation level.
// Writes are not rolled back on error; in-memory stores validate before mutating.
type MemoryRunner struct {
	mu sync.Mutex
}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(context.WithValue(ctx, memoryTxKey{}, true))
}
