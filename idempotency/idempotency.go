// Package idempotency derives the deduplication keys used by the posting engine.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Key returns the idempotency key for posting an event: the hex SHA-256 of
// the JSON document {eventId, payload, postingProfileVersion, tenantId}.
// encoding/json writes map keys in sorted order at every level, so the key
// is independent of payload field order. Bumping version supersedes keys
// derived under an older posting profile.
func Key(tenantID, eventID string, payload map[string]any, version string) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	doc := map[string]any{
		"tenantId":              tenantID,
		"eventId":               eventID,
		"payload":               payload,
		"postingProfileVersion": version,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("idempotency: encode: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ReversalKey returns the key for a reversal of txID created at t.
// Reversals are not deduplicated; each call yields a distinct key.
func ReversalKey(txID string, t time.Time) string {
	return "reversal:" + txID + ":" + strconv.FormatInt(t.UnixNano(), 10)
}

// MovementKey returns the dedup key of the seq-th inventory movement of an event.
func MovementKey(eventID string, seq int) string {
	return eventID + ":" + strconv.Itoa(seq)
}
