package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Export is the top-level document produced by the upstream order export.
type Export struct {
	ExternalID Text    `json:"external_id"`
	UserID     Text    `json:"userId"`
	Orders     []Order `json:"orders"`
}

// Order represents one historical order as found in the export.
type Order struct {
	ID             Text        `json:"id"`
	CreatedAt      Timestamp   `json:"createdAt"`
	Store          Store       `json:"store"`
	Items          []OrderItem `json:"items"`
	Subtotal       Number      `json:"subtotal"`
	Tax            Number      `json:"tax"`
	Total          Number      `json:"total"`
	PickupTime     Text        `json:"pickupTime"`
	RewardDiscount Number      `json:"rewardDiscount"`
	CouponDiscount Number      `json:"couponDiscount"`
	PointsEarned   Number      `json:"pointsEarned"`
}

type Store struct {
	ID   Text `json:"id"`
	Name Text `json:"name"`
}

// OrderItem is a single line of an order.
type OrderItem struct {
	Item           MenuItem        `json:"item"`
	Quantity       Quantity        `json:"quantity"`
	Customizations []Customization `json:"customizations"`
}

type MenuItem struct {
	ID       Text   `json:"id"`
	Name     Text   `json:"name"`
	Price    Number `json:"price"`
	Category Text   `json:"category"`
}

type Customization struct {
	ID    Text   `json:"id"`
	Name  Text   `json:"name"`
	Price Number `json:"price"`
}

// Text accepts any JSON value. Strings pass through, numbers and booleans
// keep their literal form, anything else decodes to "".
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*t = ""
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			*t = Text(s)
		}
	case 't', 'f':
		*t = Text(b)
	case 'n', '{', '[':
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err == nil {
			*t = Text(n.String())
		}
	}
	return nil
}

func (t Text) String() string { return string(t) }

// Number accepts any JSON value; only JSON numbers are kept, everything else decodes to 0.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil || math.IsNaN(f) {
		*n = 0
		return nil
	}
	*n = Number(f)
	return nil
}

func (n Number) Float64() float64 { return float64(n) }

// Quantity is an item count coerced to at least 1.
// Numbers are truncated, strings use their leading integer, anything else is 1.
type Quantity int

func (q *Quantity) UnmarshalJSON(b []byte) error {
	*q = Quantity(parseQuantity(b))
	return nil
}

// Int returns the effective quantity, which is never below 1.
func (q Quantity) Int() int {
	if q < 1 {
		return 1
	}
	return int(q)
}

func parseQuantity(b []byte) int {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		return int(math.Trunc(f))
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return leadingInt(s)
	}
	return 1
}

// leadingInt mirrors a lenient integer parse: optional sign followed by digits, rest ignored.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 1
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 1
	}
	return n
}

// Timestamp keeps the raw createdAt value so the transformer can decide how to render it.
type Timestamp struct {
	raw json.RawMessage
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.raw = append(t.raw[:0], b...)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if len(t.raw) == 0 {
		return []byte("null"), nil
	}
	return t.raw, nil
}

// TextTimestamp builds a Timestamp holding a textual value.
func TextTimestamp(s string) Timestamp {
	b, _ := json.Marshal(s)
	return Timestamp{raw: b}
}

// TimeTimestamp builds a Timestamp holding a date value in epoch-second form.
func TimeTimestamp(t time.Time) Timestamp {
	b, _ := json.Marshal(map[string]int64{"_seconds": t.Unix(), "_nanoseconds": int64(t.Nanosecond())})
	return Timestamp{raw: b}
}

// IsoLayout is the textual layout used for converted timestamps.
const IsoLayout = "2006-01-02T15:04:05.000Z"

// Resolve returns the textual form of the timestamp. ok is false when the
// value is absent or not date-like.
func (t Timestamp) Resolve() (string, bool) {
	raw := bytes.TrimSpace(t.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)).UTC().Format(IsoLayout), true
	}
	var obj map[string]json.Number
	if err := json.Unmarshal(raw, &obj); err == nil {
		sec, okSec := firstInt(obj, "_seconds", "seconds")
		if !okSec {
			return "", false
		}
		nsec, _ := firstInt(obj, "_nanoseconds", "nanoseconds")
		return time.Unix(sec, nsec).UTC().Format(IsoLayout), true
	}
	return "", false
}

func firstInt(obj map[string]json.Number, keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}
