package bridge

import "time"

// Vendor payloads as delivered by the SDK callbacks.

type VendorContentCard struct {
	ID          string
	Title       string
	Description string
	ImageURL    string
	URL         string
	Extras      map[string]string
	Pinned      bool
	Dismissed   bool
	CreatedAt   time.Time
}

// VendorPushKind is the SDK's push lifecycle stage.
type VendorPushKind int

const (
	VendorPushReceived VendorPushKind = iota + 1
	VendorPushOpened
)

type VendorPushPayload struct {
	Kind     VendorPushKind
	Title    string
	Body     string
	Deeplink string
	Extras   map[string]string
	Date     time.Time
}

type VendorInAppMessage struct {
	ID      string
	Header  string
	Message string
	Buttons []string
	Extras  map[string]string
}

// Application-side representations handed to the UI layer.

type ContentCard struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ImageURL    string            `json:"imageUrl,omitempty"`
	URL         string            `json:"url,omitempty"`
	Extras      map[string]string `json:"extras,omitempty"`
	Pinned      bool              `json:"pinned"`
	CreatedAt   int64             `json:"createdAt"`
}

type PushEvent struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Deeplink string            `json:"deeplink,omitempty"`
	Extras   map[string]string `json:"extras,omitempty"`
	Time     int64             `json:"time"`
}

type InAppMessage struct {
	ID      string            `json:"id"`
	Header  string            `json:"header,omitempty"`
	Message string            `json:"message"`
	Buttons []string          `json:"buttons,omitempty"`
	Extras  map[string]string `json:"extras,omitempty"`
}

// MapContentCards keeps the cards the user has not dismissed, in order.
func MapContentCards(cards []VendorContentCard) []ContentCard {
	out := make([]ContentCard, 0, len(cards))
	for _, c := range cards {
		if c.Dismissed {
			continue
		}
		out = append(out, ContentCard{
			ID:          c.ID,
			Title:       c.Title,
			Description: c.Description,
			ImageURL:    c.ImageURL,
			URL:         c.URL,
			Extras:      copyExtras(c.Extras),
			Pinned:      c.Pinned,
			CreatedAt:   unixOrZero(c.CreatedAt),
		})
	}
	return out
}

func MapPushEvent(p VendorPushPayload) PushEvent {
	typ := "push_received"
	if p.Kind == VendorPushOpened {
		typ = "push_opened"
	}
	return PushEvent{
		Type:     typ,
		Title:    p.Title,
		Body:     p.Body,
		Deeplink: p.Deeplink,
		Extras:   copyExtras(p.Extras),
		Time:     unixOrZero(p.Date),
	}
}

func MapInAppMessage(m VendorInAppMessage) InAppMessage {
	var buttons []string
	if len(m.Buttons) > 0 {
		buttons = append([]string(nil), m.Buttons...)
	}
	return InAppMessage{
		ID:      m.ID,
		Header:  m.Header,
		Message: m.Message,
		Buttons: buttons,
		Extras:  copyExtras(m.Extras),
	}
}

func copyExtras(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
