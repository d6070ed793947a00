// Package identity resolves the Braze external_id attached to every record of a run.
package identity

import (
	"strings"

	"brazekit/internal/model"
)

// Fallback is used when neither an override nor the export carries an identifier.
const Fallback = "user_1"

// Resolve picks, in order: the operator override, the export's external_id,
// the export's userId, then Fallback.
func Resolve(override string, doc model.Export) string {
	for _, v := range []string{override, doc.ExternalID.String(), doc.UserID.String()} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return Fallback
}
