// Package braze is a minimal client for the Braze REST /users/track endpoint.
package braze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"brazekit/internal/transform"
)

// TrackPath is appended to the configured REST endpoint.
const TrackPath = "/users/track"

// TrackRequest carries exactly one of Purchases or Events.
type TrackRequest struct {
	Purchases []transform.PurchaseRecord      `json:"purchases,omitempty"`
	Events    []transform.OrderCompletedEvent `json:"events,omitempty"`
}

// TrackResponse is the decoded body of a /users/track reply.
type TrackResponse struct {
	Message string            `json:"message"`
	Errors  []json.RawMessage `json:"errors,omitempty"`
}

// APIError reports a rejected request: bad status, unparseable body or a non-success message.
type APIError struct {
	Status  int
	Message string
	Errors  []json.RawMessage
	Body    string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.Message != "success":
		errs, _ := json.Marshal(e.Errors)
		if len(e.Errors) == 0 {
			errs = []byte("[]")
		}
		return fmt.Sprintf("braze API message: %s %s", e.Message, errs)
	default:
		return fmt.Sprintf("braze API error (%d): %s", e.Status, e.Body)
	}
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("braze request to %s: %v", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client posts batches to /users/track with a bearer token.
type Client struct {
	url    string
	apiKey string
	http   Doer
}

// NewClient builds a client. A zero timeout leaves the transport default in place.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	return NewClientWith(endpoint, apiKey, &http.Client{Timeout: timeout})
}

// NewClientWith lets callers inject their own HTTP doer.
func NewClientWith(endpoint, apiKey string, d Doer) *Client {
	return &Client{
		url:    strings.TrimSuffix(endpoint, "/") + TrackPath,
		apiKey: apiKey,
		http:   d,
	}
}

// Track sends one request and validates the reply.
func (c *Client) Track(ctx context.Context, body TrackRequest) (TrackResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return TrackResponse{}, errors.Wrap(err, "marshal track request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return TrackResponse{}, errors.Wrap(err, "build track request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return TrackResponse{}, &NetworkError{URL: c.url, Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return TrackResponse{}, &NetworkError{URL: c.url, Err: err}
	}

	var out TrackResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return TrackResponse{}, &APIError{Status: res.StatusCode, Body: string(raw)}
	}
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return out, &APIError{Status: res.StatusCode, Errors: out.Errors, Body: string(raw)}
	}
	if out.Message != "" && out.Message != "success" {
		return out, &APIError{Status: res.StatusCode, Message: out.Message, Errors: out.Errors, Body: string(raw)}
	}
	return out, nil
}
