// Package signature implements validation of the HMAC signatures GitHub
// attaches to webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Header is the request header carrying the signature of the raw body.
const Header = "X-Hub-Signature-256"

const prefix = "sha256="

var (
	// ErrMissingSignature is returned when the request carries no signature
	// header at all.
	ErrMissingSignature = errors.New("no signature provided")

	// ErrMalformedSignature is returned when the header value is not of the
	// form "sha256=<hex>".
	ErrMalformedSignature = errors.New("malformed signature header")

	// ErrInvalidSignature is returned when the signature does not match the
	// body under the resolved secret.
	ErrInvalidSignature = errors.New("signature mismatch")
)

// Verify checks that header carries a valid HMAC-SHA256 of body keyed with
// secret. The comparison is constant time; verification failure must always
// halt processing before any filesystem or subprocess interaction.
func Verify(body []byte, header, secret string) error {
	if header == "" {
		return ErrMissingSignature
	}

	encoded, found := strings.CutPrefix(header, prefix)
	if !found {
		return ErrMalformedSignature
	}

	claimed, err := hex.DecodeString(encoded)
	if err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	// hmac.Equal does not short-circuit on the first mismatched byte.
	if !hmac.Equal(mac.Sum(nil), claimed) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign computes the header value for a body and secret. It exists for tests
// and for operators wanting to hand-craft a delivery with curl.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return prefix + hex.EncodeToString(mac.Sum(nil))
}
