package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/finance-ledger/ledger"
)

// Local is an in-process ledger.Locker. Acquire blocks until the key is
// free or ctx is done.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

var _ ledger.Locker = (*Local)(nil)

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ledger.ErrSeriesLocked, key, ctx.Err())
		}
	}
}
