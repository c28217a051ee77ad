// Package integration provides the senders that deliver outbox items to external
// integrations, the sender registry consulted by the dispatcher and the loader of
// the integrations file.
package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strconv"

	"gocloud.dev/secrets"
	"golang.org/x/crypto/hkdf"

	apperrors "github.com/allisson/relay/internal/errors"

	// Register the KMS drivers that can hold the signing secret.
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"
)

// SignatureHeader carries the HMAC of a webhook request.
const SignatureHeader = "X-Relay-Signature"

// TimestampHeader carries the unix time the signature was computed at.
const TimestampHeader = "X-Relay-Timestamp"

const signingKeyInfo = "relay-webhook-signing-v1"

// OpenSigningSecret returns the webhook signing secret. When keeperURL is empty the
// configured value is the secret itself; otherwise it is the base64 ciphertext of the
// secret, decrypted with the gocloud.dev keeper at keeperURL (awskms://, gcpkms://,
// azurekeyvault://, hashivault:// or base64key://).
func OpenSigningSecret(ctx context.Context, keeperURL, configured string) ([]byte, error) {
	if keeperURL == "" {
		return []byte(configured), nil
	}
	if configured == "" {
		return nil, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(configured)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to decode signing secret ciphertext")
	}

	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open signing secret keeper")
	}
	defer keeper.Close() //nolint:errcheck

	plaintext, err := keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to decrypt signing secret")
	}
	return plaintext, nil
}

// DeriveSigningKey derives the 32-byte HMAC key from the configured secret with
// HKDF-SHA256. An empty secret yields a nil key, which disables signing.
func DeriveSigningKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, nil
	}
	reader := hkdf.New(sha256.New, secret, nil, []byte(signingKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, apperrors.Wrap(err, "failed to derive signing key")
	}
	return key, nil
}

// Sign returns the signature header value for body sent at timestamp:
// "sha256=" followed by the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(key []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body sent at timestamp.
func VerifySignature(key []byte, timestamp int64, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(key, timestamp, body)), []byte(signature))
}
