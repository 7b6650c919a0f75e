// Package event derives stable, content-addressed identifiers for inbound
// webhook deliveries. The identifier is the idempotency key used to suppress
// duplicate processing of redelivered events.
package event

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/conciergelabs/concierge/internal/models"
)

// Identify computes the event identifier for a raw webhook body: the hex
// encoding of the SHA-256 hash of the exact payload bytes. Identical bodies
// always produce the same identifier; any difference produces a different one.
// An empty body is rejected before hashing.
func Identify(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", models.ErrInvalidPayload
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
