package bridge

import (
	"context"
	"sync"
)

// Subscription is a running forwarder. It stops when cancelled, when its
// parent context ends, or when the vendor stream closes.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the forwarder and waits for it to exit. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the forwarder has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Forward maps every value received on in and hands it to out, in order.
// A value mapped while out is full waits until the UI takes it or the
// subscription stops.
func Forward[V, A any](ctx context.Context, in <-chan V, mapFn func(V) A, out chan<- A) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- mapFn(v):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return s
}
