package bridge

import "context"

// Presenter replaces the SDK's native in-app message UI. Messages go to the
// bridge's in-app stream instead of the screen.
type Presenter struct {
	ctx context.Context
	out chan<- VendorInAppMessage
}

// NewPresenter returns a presenter that hands messages to out until ctx ends.
func NewPresenter(ctx context.Context, out chan<- VendorInAppMessage) *Presenter {
	return &Presenter{ctx: ctx, out: out}
}

// Present forwards the message and reports whether the SDK should render it
// natively, which is never.
func (p *Presenter) Present(msg VendorInAppMessage) bool {
	select {
	case p.out <- msg:
	case <-p.ctx.Done():
	}
	return false
}
