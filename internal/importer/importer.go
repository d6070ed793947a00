// Package importer replays a historical order export into Braze as
// purchases followed by order_completed events.
package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"brazekit/internal/batch"
	"brazekit/internal/braze"
	"brazekit/internal/identity"
	"brazekit/internal/journal"
	"brazekit/internal/ledger"
	"brazekit/internal/metrics"
	"brazekit/internal/model"
	"brazekit/internal/transform"
)

// Options configures one import run. Ledger, Journal, Metrics and Logger are optional.
type Options struct {
	Path       string
	APIKey     string
	Endpoint   string
	ExternalID string

	DryRun         bool
	Clock          transform.Clock
	RequestTimeout time.Duration

	// Tracker replaces the HTTP client built from Endpoint and APIKey.
	Tracker batch.Tracker

	Ledger  ledger.Store
	Journal journal.Writer
	Metrics *metrics.Registry
	Logger  *zap.Logger
	RunID   string

	// Out receives operator progress lines.
	Out io.Writer
}

// Result summarizes a run, including partial progress when it failed.
type Result struct {
	ExternalID       string
	Orders           int
	Purchases        int
	Events           int
	SkippedPurchases int
	SkippedEvents    int
	SentPurchases    int
	SentEvents       int
}

// Run executes the import. Credentials are checked before the export is read,
// so a misconfigured run touches neither the file nor the network.
func Run(ctx context.Context, opts Options) (res Result, err error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	defer func() {
		if opts.Metrics == nil {
			return
		}
		if err != nil {
			opts.Metrics.LastRunSuccess.Set(0)
		} else {
			opts.Metrics.LastRunSuccess.Set(1)
		}
	}()

	if err := CheckInputs(opts); err != nil {
		return res, err
	}
	tracker := opts.Tracker
	if tracker == nil && !opts.DryRun {
		tracker = braze.NewClient(opts.Endpoint, opts.APIKey, opts.RequestTimeout)
	}

	doc, err := Load(opts.Path)
	if err != nil {
		return res, err
	}
	res.ExternalID = identity.Resolve(opts.ExternalID, doc)
	res.Orders = len(doc.Orders)

	purchases, err := buildPurchases(res.ExternalID, doc.Orders, opts.Clock)
	if err != nil {
		return res, err
	}
	events, err := buildEvents(res.ExternalID, doc.Orders, opts.Clock)
	if err != nil {
		return res, err
	}
	res.Purchases, res.Events = len(purchases), len(events)

	fmt.Fprintf(out, "External ID: %s\n", res.ExternalID)
	fmt.Fprintf(out, "Orders: %d, Purchases: %d, Events: %d\n", res.Orders, res.Purchases, res.Events)

	purchases, res.SkippedPurchases, err = unsent(ctx, opts, ledger.KindPurchase, purchases)
	if err != nil {
		return res, err
	}
	events, res.SkippedEvents, err = unsent(ctx, opts, ledger.KindEvent, events)
	if err != nil {
		return res, err
	}
	if res.SkippedPurchases+res.SkippedEvents > 0 {
		log.Info("skipping records already accepted",
			zap.Int("purchases", res.SkippedPurchases), zap.Int("events", res.SkippedEvents))
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry run: would send %d purchases and %d events.\n", len(purchases), len(events))
		return res, nil
	}

	sender := &batch.Sender{
		Tracker: tracker,
		Ledger:  opts.Ledger,
		Journal: opts.Journal,
		Metrics: opts.Metrics,
		Logger:  log,
		RunID:   opts.RunID,
		Progress: func(kind ledger.Kind, sent, total int) {
			fmt.Fprintf(out, "  %s %d/%d\n", progressLabel(kind), sent, total)
		},
	}

	pr, err := sender.SendPurchases(ctx, purchases)
	res.SentPurchases = pr.Sent
	if err != nil {
		return res, err
	}
	er, err := sender.SendEvents(ctx, events)
	res.SentEvents = er.Sent
	if err != nil {
		return res, err
	}

	fmt.Fprintln(out, "Done. Check Braze user profile for purchases and order_completed events.")
	log.Debug("import finished", zap.String("run", opts.RunID),
		zap.Int("purchases", res.SentPurchases), zap.Int("events", res.SentEvents))
	return res, nil
}

// CheckInputs reports ErrMissingInput, with the usage text as a hint, when the
// export path or the credentials a live run needs are missing.
func CheckInputs(opts Options) error {
	if opts.Path == "" {
		return errors.WithHint(errors.Wrap(ErrMissingInput, "no export file given"), Usage)
	}
	if opts.Tracker == nil && !opts.DryRun && (opts.APIKey == "" || opts.Endpoint == "") {
		return errors.WithHint(
			errors.Wrap(ErrMissingInput, "set BRAZE_REST_API_KEY and BRAZE_REST_ENDPOINT, or pass --api-key= and --endpoint="),
			Usage)
	}
	return nil
}

func progressLabel(kind ledger.Kind) string {
	if kind == ledger.KindEvent {
		return "Events (" + transform.OrderCompletedName + ")"
	}
	return "Purchases"
}

// buildPurchases pairs each purchase with its ledger key, in record order.
func buildPurchases(externalID string, orders []model.Order, clk transform.Clock) ([]batch.Pending[transform.PurchaseRecord], error) {
	recs, err := transform.BuildPurchases(externalID, orders, clk)
	if err != nil {
		return nil, err
	}
	out := make([]batch.Pending[transform.PurchaseRecord], 0, len(recs))
	for i, o := range orders {
		ref := transform.OrderRef(o, i)
		for j := range o.Items {
			out = append(out, batch.Pending[transform.PurchaseRecord]{
				Key:    ledger.PurchaseKey(externalID, ref, j),
				Record: recs[len(out)],
			})
		}
	}
	return out, nil
}

func buildEvents(externalID string, orders []model.Order, clk transform.Clock) ([]batch.Pending[transform.OrderCompletedEvent], error) {
	recs, err := transform.BuildOrderCompletedEvents(externalID, orders, clk)
	if err != nil {
		return nil, err
	}
	out := make([]batch.Pending[transform.OrderCompletedEvent], len(recs))
	for i, o := range orders {
		out[i] = batch.Pending[transform.OrderCompletedEvent]{
			Key:    ledger.EventKey(externalID, transform.OrderRef(o, i)),
			Record: recs[i],
		}
	}
	return out, nil
}

// unsent drops records whose key the ledger already holds.
func unsent[T any](ctx context.Context, opts Options, kind ledger.Kind, items []batch.Pending[T]) ([]batch.Pending[T], int, error) {
	if opts.Ledger == nil {
		return items, 0, nil
	}
	out := items[:0:0]
	skipped := 0
	for _, p := range items {
		_, ok, err := opts.Ledger.Get(ctx, p.Key)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "ledger lookup %s", p.Key)
		}
		if ok {
			skipped++
			continue
		}
		out = append(out, p)
	}
	if skipped > 0 && opts.Metrics != nil {
		opts.Metrics.RecordsSkipped.WithLabelValues(string(kind)).Add(float64(skipped))
	}
	return out, skipped, nil
}
