package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestQuantity_Coercion(t *testing.T) {
	cases := map[string]int{
		`2`:     2,
		`2.9`:   2,
		`"3"`:   3,
		`"4pc"`: 4,
		`0`:     1,
		`-1`:    1,
		`"abc"`: 1,
		`null`:  1,
		`true`:  1,
	}
	for raw, want := range cases {
		var q Quantity
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
		if got := q.Int(); got != want {
			t.Fatalf("quantity %s: got=%d want=%d", raw, got, want)
		}
	}
	var zero Quantity
	if zero.Int() != 1 {
		t.Fatalf("missing quantity should be 1")
	}
}

func TestNumber_NonNumbersAreZero(t *testing.T) {
	var o Order
	if err := json.Unmarshal([]byte(`{"subtotal":"12","tax":null,"total":9.5,"pointsEarned":{"x":1}}`), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if o.Subtotal != 0 || o.Tax != 0 || o.Total != 9.5 || o.PointsEarned != 0 {
		t.Fatalf("unexpected numbers: %+v", o)
	}
}

func TestTimestamp_Resolve(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"2024-01-01T00:00:00Z"`, "2024-01-01T00:00:00Z", true},
		{`"yesterday"`, "yesterday", true},
		{`1704067200000`, "2024-01-01T00:00:00.000Z", true},
		{`{"_seconds":1704067200,"_nanoseconds":250000000}`, "2024-01-01T00:00:00.250Z", true},
		{`{"seconds":1704067200}`, "2024-01-01T00:00:00.000Z", true},
		{`{"foo":1}`, "", false},
		{`null`, "", false},
		{`[1,2]`, "", false},
	}
	for _, tc := range cases {
		var ts Timestamp
		if err := json.Unmarshal([]byte(tc.raw), &ts); err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		got, ok := ts.Resolve()
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: got=(%q,%v) want=(%q,%v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
	var missing Timestamp
	if _, ok := missing.Resolve(); ok {
		t.Fatalf("absent timestamp should not resolve")
	}
}

func TestTimestamp_Constructors(t *testing.T) {
	if s, ok := TextTimestamp("2024-05-05T10:00:00Z").Resolve(); !ok || s != "2024-05-05T10:00:00Z" {
		t.Fatalf("TextTimestamp: %q %v", s, ok)
	}
	at := time.Date(2024, 5, 5, 10, 0, 0, 0, time.UTC)
	if s, ok := TimeTimestamp(at).Resolve(); !ok || s != "2024-05-05T10:00:00.000Z" {
		t.Fatalf("TimeTimestamp: %q %v", s, ok)
	}
}

func TestExport_Decode(t *testing.T) {
	var doc Export
	raw := `{"userId":"abc","orders":[{"id":"o1","store":{"id":"s","name":"n"},"items":[{"item":{"id":"i","price":1.5},"quantity":"2","customizations":[{"id":"c","price":0.5}]}]}]}`
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.UserID != "abc" || len(doc.Orders) != 1 || doc.Orders[0].Items[0].Quantity.Int() != 2 {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestText_Lenient(t *testing.T) {
	cases := map[string]Text{
		`"abc"`:                   "abc",
		`12345`:                   "12345",
		`1.5`:                     "1.5",
		`true`:                    "true",
		`false`:                   "false",
		`null`:                    "",
		`{"_seconds":1700000000}`: "",
		`["a"]`:                   "",
	}
	for raw, want := range cases {
		var got Text
		if err := json.Unmarshal([]byte(raw), &got); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if got != want {
			t.Fatalf("%s: got %q want %q", raw, got, want)
		}
	}
}

func TestExport_DecodeNonStringFields(t *testing.T) {
	var doc Export
	raw := `{"external_id":42,"userId":12345,"orders":[{"id":7,"pickupTime":{"_seconds":1700000000},
	  "store":{"id":3,"name":null},
	  "items":[{"item":{"id":99,"name":false,"category":["x"]},"customizations":[{"id":5,"name":{}}]}]}]}`
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.ExternalID != "42" || doc.UserID != "12345" {
		t.Fatalf("identity fields: %q %q", doc.ExternalID, doc.UserID)
	}
	o := doc.Orders[0]
	if o.ID != "7" || o.PickupTime != "" {
		t.Fatalf("order fields: %q %q", o.ID, o.PickupTime)
	}
	if o.Store.ID != "3" || o.Store.Name != "" {
		t.Fatalf("store fields: %+v", o.Store)
	}
	it := o.Items[0]
	if it.Item.ID != "99" || it.Item.Name != "false" || it.Item.Category != "" {
		t.Fatalf("item fields: %+v", it.Item)
	}
	if c := it.Customizations[0]; c.ID != "5" || c.Name != "" {
		t.Fatalf("customization fields: %+v", c)
	}
}
