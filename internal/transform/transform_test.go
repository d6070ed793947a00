package transform

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brazekit/internal/model"
)

const burgerExport = `{
  "orders": [{
    "id": "o1",
    "createdAt": "2024-01-01T00:00:00Z",
    "store": {"id": "s1", "name": "Main St"},
    "items": [{
      "item": {"id": "i1", "name": "Burger", "price": 5.5, "category": "Food"},
      "quantity": 2,
      "customizations": [{"name": "Extra Cheese", "price": 1.25}]
    }],
    "subtotal": 12.25, "tax": 1.0, "total": 13.25,
    "pickupTime": "12:00", "rewardDiscount": 0, "couponDiscount": 0, "pointsEarned": 5
  }]
}`

var refClock = FixedClock(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))

func decode(t *testing.T, s string) model.Export {
	t.Helper()
	var doc model.Export
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func TestBurgerScenario(t *testing.T) {
	doc := decode(t, burgerExport)

	ps, err := BuildPurchases("u1", doc.Orders, refClock)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	p := ps[0]
	assert.Equal(t, "u1", p.ExternalID)
	assert.Equal(t, "Burger", p.ProductID)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, 13.5, p.Price)
	assert.Equal(t, 2, p.Quantity)
	assert.Equal(t, "2024-01-01T00:00:00Z", p.Time)
	assert.Equal(t, []string{"Extra Cheese"}, p.Properties.Customizations)
	assert.Equal(t, "i1", p.Properties.ProductSKU)
	assert.Equal(t, "Food", p.Properties.ProductCategory)
	assert.Equal(t, "o1", p.Properties.OrderID)
	assert.Equal(t, "Main St", p.Properties.StoreName)

	evs, err := BuildOrderCompletedEvents("u1", doc.Orders, refClock)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	e := evs[0]
	assert.Equal(t, "order_completed", e.Name)
	assert.Equal(t, 2, e.Properties.ItemsCount)
	assert.Equal(t, 1, e.Properties.UniqueItems)
	assert.False(t, e.Properties.RewardRedeemed)
	assert.Equal(t, 13.25, e.Properties.Total)
	assert.Equal(t, 5.0, e.Properties.PointsEarned)
	assert.Equal(t, "card", e.Properties.PaymentMethod)
	assert.Equal(t, "12:00", e.Properties.PickupTime)
}

func TestPurchases_FlattenItemsAcrossOrders(t *testing.T) {
	doc := decode(t, `{"orders":[
	  {"id":"a","createdAt":"t","items":[{"item":{"id":"x"}},{"item":{"id":"y"}},{"item":{"id":"z"}}]},
	  {"id":"b","createdAt":"t","items":[]},
	  {"id":"c","createdAt":"t","items":[{"item":{"id":"x"}}]}
	]}`)
	ps, err := BuildPurchases("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Len(t, ps, 4)

	evs, err := BuildOrderCompletedEvents("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Len(t, evs, 3, "one event per order, including orders with no items")
	assert.Equal(t, 0, evs[1].Properties.ItemsCount)
}

func TestQuantityCoercion(t *testing.T) {
	for _, q := range []string{`0`, `-1`, `"abc"`, `null`, `{}`} {
		doc := decode(t, `{"orders":[{"id":"o","createdAt":"t","items":[{"item":{"id":"i","price":2},"quantity":`+q+`}]}]}`)
		ps, err := BuildPurchases("u", doc.Orders, refClock)
		require.NoError(t, err)
		assert.Equal(t, 1, ps[0].Quantity, "quantity %s", q)
		assert.Equal(t, 2.0, ps[0].Price, "quantity %s", q)
	}
	// missing entirely
	doc := decode(t, `{"orders":[{"id":"o","createdAt":"t","items":[{"item":{"id":"i"}}]}]}`)
	ps, err := BuildPurchases("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Equal(t, 1, ps[0].Quantity)

	evs, err := BuildOrderCompletedEvents("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Equal(t, 1, evs[0].Properties.ItemsCount)
}

func TestRounding(t *testing.T) {
	doc := decode(t, `{"orders":[{"id":"o","createdAt":"t","subtotal":10.005,"tax":0.333333,"total":7.1,
	  "items":[{"item":{"id":"i","price":0.1},"quantity":3,"customizations":[{"id":"c","price":0.2}]}]}]}`)
	ps, err := BuildPurchases("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Equal(t, 0.9, ps[0].Price)
	assertTwoDecimals(t, ps[0].Price)

	evs, err := BuildOrderCompletedEvents("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Equal(t, 10.01, evs[0].Properties.Subtotal)
	assert.Equal(t, 0.33, evs[0].Properties.Tax)
	for _, v := range []float64{evs[0].Properties.Subtotal, evs[0].Properties.Tax, evs[0].Properties.Total} {
		assertTwoDecimals(t, v)
	}
}

func assertTwoDecimals(t *testing.T, v float64) {
	t.Helper()
	scaled := v * 100
	assert.InDelta(t, math.Round(scaled), scaled, 1e-6, "%v has more than two decimals", v)
}

func TestPurchaseProperties_OmitEmptyCustomizations(t *testing.T) {
	doc := decode(t, `{"orders":[{"id":"o","createdAt":"t","items":[{"item":{"id":"i"},"customizations":[{"name":""},{"id":"c2"}]},{"item":{"id":"j"}}]}]}`)
	ps, err := BuildPurchases("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ps[0].Properties.Customizations, "name falls back to id, blanks dropped")

	b, err := json.Marshal(ps[1].Properties)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "customizations")
	assert.NotContains(t, string(b), "null")
}

func TestPurchase_ProductFallbacks(t *testing.T) {
	doc := decode(t, `{"orders":[{"createdAt":"t","items":[{"item":{}},{"item":{"id":"sku9"}}]}]}`)
	ps, err := BuildPurchases("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Equal(t, "unknown", ps[0].Properties.ProductSKU)
	assert.Equal(t, "unknown", ps[0].ProductID)
	assert.Equal(t, "sku9", ps[1].ProductID)
	assert.Equal(t, "sku9", ps[1].Properties.ProductName)
	assert.Equal(t, "", ps[0].Properties.OrderID)
}

func TestTransformIsDeterministic(t *testing.T) {
	doc := decode(t, `{"orders":[{"id":"o1","items":[{"item":{"id":"i"}}]},{"id":"o2","createdAt":{"_seconds":1704067200,"_nanoseconds":5000000}}]}`)
	a, err := BuildPurchases("u", doc.Orders, refClock)
	require.NoError(t, err)
	b, err := BuildPurchases("u", doc.Orders, refClock)
	require.NoError(t, err)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.Equal(t, string(ja), string(jb))

	evs, err := BuildOrderCompletedEvents("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-04T05:06:07.000Z", evs[0].Time, "missing createdAt uses the reference clock")
	assert.Equal(t, "2024-01-01T00:00:00.005Z", evs[1].Time)
}

func TestStrictClockRejectsMissingTimestamp(t *testing.T) {
	doc := decode(t, `{"orders":[{"id":"o1","createdAt":"t"},{"id":"o2"}]}`)
	strict := Clock{Reference: refClock.Reference, Strict: true}

	_, err := BuildOrderCompletedEvents("u", doc.Orders, strict)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTimestamp))
	assert.Contains(t, err.Error(), `"o2"`)
}

func TestRewardRedeemed(t *testing.T) {
	doc := decode(t, `{"orders":[{"id":"o","createdAt":"t","rewardDiscount":2.5,"couponDiscount":"x"}]}`)
	evs, err := BuildOrderCompletedEvents("u", doc.Orders, refClock)
	require.NoError(t, err)
	assert.True(t, evs[0].Properties.RewardRedeemed)
	assert.Equal(t, 2.5, evs[0].Properties.RewardDiscount)
	assert.Equal(t, 0.0, evs[0].Properties.CouponDiscount)
}

func TestOrderRef(t *testing.T) {
	assert.Equal(t, "o1", OrderRef(model.Order{ID: "o1"}, 3))
	assert.Equal(t, "idx:3", OrderRef(model.Order{}, 3))
}
