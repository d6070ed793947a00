// Package bridge forwards vendor SDK callbacks (content cards, push events,
// in-app messages) to the application's UI layer over channels. Nothing is
// rendered natively.
package bridge

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidConfiguration is returned by Configuration.Validate.
var ErrInvalidConfiguration = errors.New("invalid SDK configuration")

// Configuration mirrors the SDK settings the shell supplies at launch.
type Configuration struct {
	APIKey   string
	Endpoint string
	// PushAutomation lets the SDK request push permission and register the device token.
	PushAutomation bool
}

// Validate checks that the API key and SDK endpoint host are present.
// The endpoint is a bare host such as sdk.fra-02.braze.eu.
func (c Configuration) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.Wrap(ErrInvalidConfiguration, "api key is empty")
	}
	ep := strings.TrimSpace(c.Endpoint)
	if ep == "" {
		return errors.Wrap(ErrInvalidConfiguration, "endpoint is empty")
	}
	if strings.Contains(ep, "://") || strings.ContainsAny(ep, "/ ") {
		return errors.WithHint(
			errors.Wrapf(ErrInvalidConfiguration, "endpoint %q is not a bare host", ep),
			"use the SDK endpoint host, e.g. sdk.fra-02.braze.eu")
	}
	return nil
}
