package sink

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ContentHash computes the deterministic digest of a JSON payload used for
// deduplication. The payload is decoded and re-encoded so that key order and
// insignificant whitespace do not affect the digest; number literals are kept
// verbatim.
func ContentHash(payload []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}

	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
