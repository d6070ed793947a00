// Package transform turns exported orders into Braze purchase and event payloads.
// Every function here is pure given its clock.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"brazekit/internal/model"
)

const (
	Currency           = "USD"
	OrderCompletedName = "order_completed"
	PaymentMethod      = "card"
	UnknownProduct     = "unknown"
)

// ErrMissingTimestamp is returned in strict mode for orders without a usable createdAt.
var ErrMissingTimestamp = errors.New("order has no usable createdAt")

// PurchaseRecord is one entry of the "purchases" array of /users/track.
type PurchaseRecord struct {
	ExternalID string             `json:"external_id"`
	ProductID  string             `json:"product_id"`
	Currency   string             `json:"currency"`
	Price      float64            `json:"price"`
	Quantity   int                `json:"quantity"`
	Time       string             `json:"time"`
	Properties PurchaseProperties `json:"properties"`
}

type PurchaseProperties struct {
	ProductSKU      string   `json:"product_sku"`
	ProductName     string   `json:"product_name"`
	ProductCategory string   `json:"product_category"`
	Customizations  []string `json:"customizations,omitempty"`
	OrderID         string   `json:"order_id"`
	StoreID         string   `json:"store_id"`
	StoreName       string   `json:"store_name"`
}

// OrderCompletedEvent is one entry of the "events" array of /users/track.
type OrderCompletedEvent struct {
	ExternalID string          `json:"external_id"`
	Name       string          `json:"name"`
	Time       string          `json:"time"`
	Properties EventProperties `json:"properties"`
}

type EventProperties struct {
	OrderID        string  `json:"order_id"`
	Subtotal       float64 `json:"subtotal"`
	Tax            float64 `json:"tax"`
	Total          float64 `json:"total"`
	ItemsCount     int     `json:"items_count"`
	UniqueItems    int     `json:"unique_items"`
	StoreID        string  `json:"store_id"`
	StoreName      string  `json:"store_name"`
	PickupTime     string  `json:"pickup_time"`
	RewardRedeemed bool    `json:"reward_redeemed"`
	RewardDiscount float64 `json:"reward_discount"`
	CouponDiscount float64 `json:"coupon_discount"`
	PointsEarned   float64 `json:"points_earned"`
	PaymentMethod  string  `json:"payment_method"`
}

// Clock decides what happens to orders whose createdAt is missing.
// Reference is used as the order time; with Strict set such orders are rejected.
type Clock struct {
	Reference time.Time
	Strict    bool
}

// FixedClock returns a lenient clock anchored at t.
func FixedClock(t time.Time) Clock { return Clock{Reference: t} }

// OrderTime renders the order's createdAt.
func (c Clock) OrderTime(o model.Order, idx int) (string, error) {
	if s, ok := o.CreatedAt.Resolve(); ok {
		return s, nil
	}
	if c.Strict {
		return "", errors.Wrapf(ErrMissingTimestamp, "order %q (position %d)", o.ID, idx)
	}
	return c.Reference.UTC().Format(model.IsoLayout), nil
}

// BuildPurchases flattens every item of every order into a purchase record.
func BuildPurchases(externalID string, orders []model.Order, clk Clock) ([]PurchaseRecord, error) {
	var out []PurchaseRecord
	for i, o := range orders {
		ts, err := clk.OrderTime(o, i)
		if err != nil {
			return nil, err
		}
		for _, it := range o.Items {
			out = append(out, buildPurchase(externalID, o, it, ts))
		}
	}
	return out, nil
}

func buildPurchase(externalID string, o model.Order, it model.OrderItem, ts string) PurchaseRecord {
	sku := it.Item.ID.String()
	if sku == "" {
		sku = UnknownProduct
	}
	name := it.Item.Name.String()
	if name == "" {
		name = sku
	}
	return PurchaseRecord{
		ExternalID: externalID,
		ProductID:  name,
		Currency:   Currency,
		Price:      Round2(LineTotal(it)),
		Quantity:   it.Quantity.Int(),
		Time:       ts,
		Properties: PurchaseProperties{
			ProductSKU:      sku,
			ProductName:     name,
			ProductCategory: it.Item.Category.String(),
			Customizations:  customizationNames(it.Customizations),
			OrderID:         o.ID.String(),
			StoreID:         o.Store.ID.String(),
			StoreName:       o.Store.Name.String(),
		},
	}
}

func customizationNames(cs []model.Customization) []string {
	var names []string
	for _, c := range cs {
		n := c.Name.String()
		if n == "" {
			n = c.ID.String()
		}
		if strings.TrimSpace(n) == "" {
			continue
		}
		names = append(names, n)
	}
	return names
}

// BuildOrderCompletedEvents emits exactly one event per order.
func BuildOrderCompletedEvents(externalID string, orders []model.Order, clk Clock) ([]OrderCompletedEvent, error) {
	out := make([]OrderCompletedEvent, 0, len(orders))
	for i, o := range orders {
		ts, err := clk.OrderTime(o, i)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, it := range o.Items {
			count += it.Quantity.Int()
		}
		out = append(out, OrderCompletedEvent{
			ExternalID: externalID,
			Name:       OrderCompletedName,
			Time:       ts,
			Properties: EventProperties{
				OrderID:        o.ID.String(),
				Subtotal:       Round2(o.Subtotal.Float64()),
				Tax:            Round2(o.Tax.Float64()),
				Total:          Round2(o.Total.Float64()),
				ItemsCount:     count,
				UniqueItems:    len(o.Items),
				StoreID:        o.Store.ID.String(),
				StoreName:      o.Store.Name.String(),
				PickupTime:     o.PickupTime.String(),
				RewardRedeemed: o.RewardDiscount > 0,
				RewardDiscount: Round2(o.RewardDiscount.Float64()),
				CouponDiscount: Round2(o.CouponDiscount.Float64()),
				PointsEarned:   o.PointsEarned.Float64(),
				PaymentMethod:  PaymentMethod,
			},
		})
	}
	return out, nil
}

// OrderRef identifies an order for ledger keys; orders without an id use their position.
func OrderRef(o model.Order, idx int) string {
	if o.ID != "" {
		return o.ID.String()
	}
	return fmt.Sprintf("idx:%d", idx)
}
