package database

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"spreadwatch/internal/model"
)

// SnapshotHash derives the content hash that makes a snapshot unique.
//
// The preimage is the capture timestamp, coin, fiat, and a canonical
// JSON serialization of the quote mapping (encoding/json writes map keys in
// sorted order). The timestamp carries nanosecond precision so two scans of
// identical market content within the same second still hash differently.
func SnapshotHash(timestamp time.Time, coin, fiat string, quotes map[string]model.Quote) (string, error) {
	canonical, err := json.Marshal(quotes)
	if err != nil {
		return "", fmt.Errorf("canonicalize quotes: %w", err)
	}
	preimage := fmt.Sprintf("%s_%s_%s_%s",
		timestamp.UTC().Format(time.RFC3339Nano), coin, fiat, canonical)
	sum := sha256.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:]), nil
}
