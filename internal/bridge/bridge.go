package bridge

import (
	"context"

	"go.uber.org/zap"
)

// Buffer is the capacity of each channel handed to the UI layer.
const Buffer = 16

// Sources are the SDK update streams the bridge subscribes to.
type Sources struct {
	ContentCards <-chan []VendorContentCard
	Push         <-chan VendorPushPayload
}

// Bridge is the composition root: it owns the three subscriptions and the
// channels the UI layer reads from.
type Bridge struct {
	Config    Configuration
	Presenter *Presenter

	ContentCards  <-chan []ContentCard
	PushEvents    <-chan PushEvent
	InAppMessages <-chan InAppMessage

	cancel context.CancelFunc
	subs   []*Subscription
	logger *zap.Logger
}

// New validates cfg and starts forwarding. A nil source is not subscribed to.
func New(ctx context.Context, cfg Configuration, src Sources, logger *zap.Logger) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)

	cards := make(chan []ContentCard, Buffer)
	push := make(chan PushEvent, Buffer)
	iam := make(chan InAppMessage, Buffer)
	presented := make(chan VendorInAppMessage)

	b := &Bridge{
		Config:        cfg,
		Presenter:     NewPresenter(ctx, presented),
		ContentCards:  cards,
		PushEvents:    push,
		InAppMessages: iam,
		cancel:        cancel,
		logger:        logger,
	}
	if src.ContentCards != nil {
		b.subs = append(b.subs, Forward(ctx, src.ContentCards, MapContentCards, cards))
	}
	if src.Push != nil {
		b.subs = append(b.subs, Forward(ctx, src.Push, MapPushEvent, push))
	}
	b.subs = append(b.subs, Forward(ctx, presented, MapInAppMessage, iam))

	logger.Info("sdk bridge started",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("push_automation", cfg.PushAutomation),
		zap.Int("subscriptions", len(b.subs)))
	return b, nil
}

// Close cancels every subscription and waits for them to exit. Present
// returns immediately after Close.
func (b *Bridge) Close() {
	b.cancel()
	for _, s := range b.subs {
		s.Cancel()
	}
	b.logger.Info("sdk bridge stopped")
}
