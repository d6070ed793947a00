package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brazekit/internal/braze"
	"brazekit/internal/ledger"
	"brazekit/internal/metrics"
	"brazekit/internal/transform"
)

const burgerExport = `{"orders":[{"id":"o1","createdAt":"2024-01-01T00:00:00Z","store":{"id":"s1","name":"Main St"},
  "items":[{"item":{"id":"i1","name":"Burger","price":5.5,"category":"Food"},"quantity":2,"customizations":[{"name":"Extra Cheese","price":1.25}]}],
  "subtotal":12.25,"tax":1.0,"total":13.25,"pickupTime":"12:00","rewardDiscount":0,"couponDiscount":0,"pointsEarned":5}]}`

var testClock = transform.FixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

// brazeStub records request bodies and answers with status for the n-th call (1-based).
type brazeStub struct {
	mu     sync.Mutex
	bodies []braze.TrackRequest
	failAt int
}

func (b *brazeStub) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := b.server()
	t.Cleanup(srv.Close)
	return srv
}

func (b *brazeStub) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		var body braze.TrackRequest
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		b.bodies = append(b.bodies, body)
		if b.failAt > 0 && len(b.bodies) == b.failAt {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"message":"invalid","errors":[{"type":"bad purchase"}]}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"success"}`)
	}))
}

func (b *brazeStub) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bodies)
}

func writeExport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func manyOrders(n int) string {
	orders := make([]string, n)
	for i := range orders {
		orders[i] = fmt.Sprintf(`{"id":"o%d","createdAt":"2024-01-01T00:00:00Z","items":[{"item":{"id":"i","name":"Tea","price":2}}]}`, i)
	}
	return `{"external_id":"doc-user","orders":[` + strings.Join(orders, ",") + `]}`
}

func TestSelectPath(t *testing.T) {
	assert.Equal(t, "b.json", SelectPath([]string{"notes", "--x=1", "b.json"}))
	assert.Equal(t, "B.JSON", SelectPath([]string{"B.JSON"}))
	assert.Equal(t, "export.txt", SelectPath([]string{"--api-key=k", "export.txt"}))
	assert.Equal(t, "", SelectPath(nil))
}

func TestLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, err = Load(writeExport(t, `{"orders":`))
	assert.True(t, errors.Is(err, ErrParse), "got %v", err)

	_, err = Load(writeExport(t, `{"orders":{"id":"o"}}`))
	assert.True(t, errors.Is(err, ErrParse), "orders must be an array")

	doc, err := Load(writeExport(t, `{"userId":"u9"}`))
	require.NoError(t, err)
	assert.Empty(t, doc.Orders)
	assert.Equal(t, "u9", doc.UserID.String())
}

func TestLoad_NonStringFieldsDoNotFailTheExport(t *testing.T) {
	doc, err := Load(writeExport(t, `{"userId":12345,"orders":[
	  {"id":"o1","pickupTime":{"_seconds":1700000000},"store":{"id":7},"items":[{"item":{"id":42,"price":2}}]}]}`))
	require.NoError(t, err)
	require.Len(t, doc.Orders, 1)
	assert.Equal(t, "12345", doc.UserID.String())
	assert.Equal(t, "7", doc.Orders[0].Store.ID.String())
	assert.Equal(t, "42", doc.Orders[0].Items[0].Item.ID.String())
	assert.Empty(t, doc.Orders[0].PickupTime.String())
}

func TestRun_BurgerScenario(t *testing.T) {
	stub := &brazeStub{}
	srv := stub.start(t)
	var out bytes.Buffer
	reg := metrics.NewRegistry()

	res, err := Run(context.Background(), Options{
		Path:       writeExport(t, burgerExport),
		APIKey:     "k",
		Endpoint:   srv.URL,
		ExternalID: "u1",
		Clock:      testClock,
		Metrics:    reg,
		Out:        &out,
	})
	require.NoError(t, err)
	assert.Equal(t, Result{ExternalID: "u1", Orders: 1, Purchases: 1, Events: 1, SentPurchases: 1, SentEvents: 1}, res)

	require.Equal(t, 2, stub.calls())
	p := stub.bodies[0].Purchases[0]
	assert.Equal(t, 13.5, p.Price)
	assert.Equal(t, 2, p.Quantity)
	assert.Equal(t, []string{"Extra Cheese"}, p.Properties.Customizations)
	e := stub.bodies[1].Events[0]
	assert.Equal(t, 2, e.Properties.ItemsCount)
	assert.Equal(t, 1, e.Properties.UniqueItems)
	assert.False(t, e.Properties.RewardRedeemed)

	assert.Equal(t, strings.Join([]string{
		"External ID: u1",
		"Orders: 1, Purchases: 1, Events: 1",
		"  Purchases 1/1",
		"  Events (order_completed) 1/1",
		"Done. Check Braze user profile for purchases and order_completed events.",
		"",
	}, "\n"), out.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.LastRunSuccess))
}

func TestRun_MissingCredentialsTouchesNothing(t *testing.T) {
	stub := &brazeStub{}
	stub.start(t)

	// The path does not exist: a missing-input error proves the file was never read.
	_, err := Run(context.Background(), Options{Path: filepath.Join(t.TempDir(), "nope.json"), APIKey: "k"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingInput))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, errors.FlattenHints(err), "BRAZE_REST_ENDPOINT")
	assert.Zero(t, stub.calls())
}

func TestRun_MissingPath(t *testing.T) {
	_, err := Run(context.Background(), Options{APIKey: "k", Endpoint: "http://x"})
	assert.True(t, errors.Is(err, ErrMissingInput))
	assert.Contains(t, errors.FlattenHints(err), "Usage: brazeimport")
}

func TestRun_AbortsOn422AndKeepsProgress(t *testing.T) {
	stub := &brazeStub{failAt: 2}
	srv := stub.start(t)
	var out bytes.Buffer
	reg := metrics.NewRegistry()

	res, err := Run(context.Background(), Options{
		Path:     writeExport(t, manyOrders(80)),
		APIKey:   "k",
		Endpoint: srv.URL,
		Clock:    testClock,
		Metrics:  reg,
		Out:      &out,
	})
	require.Error(t, err)
	var apiErr *braze.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 422, apiErr.Status)

	assert.Equal(t, 2, stub.calls(), "no request after the failing chunk")
	assert.Equal(t, 75, res.SentPurchases)
	assert.Zero(t, res.SentEvents)
	assert.Equal(t, "doc-user", res.ExternalID)

	text := out.String()
	assert.Contains(t, text, "  Purchases 75/80\n")
	assert.NotContains(t, text, "80/80")
	assert.NotContains(t, text, "Events (order_completed)")
	assert.NotContains(t, text, "Done.")
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.LastRunSuccess))
}

func TestRun_LedgerSkipsAcceptedRecordsOnRerun(t *testing.T) {
	stub := &brazeStub{failAt: 2}
	srv := stub.start(t)
	led := ledger.NewInMemoryStore()
	reg := metrics.NewRegistry()
	opts := Options{
		Path:     writeExport(t, manyOrders(80)),
		APIKey:   "k",
		Endpoint: srv.URL,
		Clock:    testClock,
		Ledger:   led,
		Metrics:  reg,
		RunID:    "run-1",
	}

	_, err := Run(context.Background(), opts)
	require.Error(t, err)

	stub.mu.Lock()
	stub.failAt = 0
	stub.mu.Unlock()
	opts.RunID = "run-2"
	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 75, res.SkippedPurchases)
	assert.Equal(t, 5, res.SentPurchases)
	assert.Equal(t, 80, res.SentEvents)
	assert.Equal(t, 75.0, testutil.ToFloat64(reg.RecordsSkipped.WithLabelValues("purchase")))

	// A third run has nothing left to send.
	before := stub.calls()
	res, err = Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, before, stub.calls())
	assert.Equal(t, 80, res.SkippedPurchases)
	assert.Equal(t, 80, res.SkippedEvents)
}

func TestRun_DryRunNeedsNoCredentials(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), Options{
		Path:   writeExport(t, burgerExport),
		DryRun: true,
		Clock:  testClock,
		Out:    &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "user_1", res.ExternalID)
	assert.Contains(t, out.String(), "Dry run: would send 1 purchases and 1 events.")
}

func TestRun_StrictTimestamps(t *testing.T) {
	stub := &brazeStub{}
	srv := stub.start(t)
	_, err := Run(context.Background(), Options{
		Path:     writeExport(t, `{"orders":[{"id":"o1","items":[{"item":{"id":"i"}}]}]}`),
		APIKey:   "k",
		Endpoint: srv.URL,
		Clock:    transform.Clock{Reference: testClock.Reference, Strict: true},
	})
	assert.True(t, errors.Is(err, transform.ErrMissingTimestamp))
	assert.Zero(t, stub.calls())
}
