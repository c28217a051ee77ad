package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON re-encodes raw so that semantically equal documents produce identical
// bytes: object keys are sorted, insignificant whitespace is dropped and numbers keep
// their literal form.
func CanonicalJSON(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode payload: trailing data after JSON value")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// IdempotencyKey fingerprints an operation's identity as hex SHA-256 over the
// canonical JSON array [integration_id, operation, stable_resource_id, payload].
func IdempotencyKey(input EnqueueInput) (string, error) {
	payload, err := CanonicalJSON(input.Payload)
	if err != nil {
		return "", err
	}

	identity, err := json.Marshal([]any{
		input.IntegrationID,
		input.Operation,
		input.StableResourceID,
		json.RawMessage(payload),
	})
	if err != nil {
		return "", fmt.Errorf("encode identity: %w", err)
	}

	sum := sha256.Sum256(identity)
	return hex.EncodeToString(sum[:]), nil
}
