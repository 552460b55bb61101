// Package vapid decodes the application server (VAPID) public key that
// authorizes push-subscription creation.
package vapid

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

// DecodePublicKey converts a URL-safe base64 key, with or without padding,
// into raw bytes. Standard-alphabet input is accepted as well. Only canonical
// encodings decode, so every accepted key round-trips through EncodePublicKey.
func DecodePublicKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, subscription.ErrMissingKey
	}
	// The decoder skips line breaks, so they would not round-trip.
	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("%w: embedded line break", subscription.ErrInvalidKeyFormat)
	}

	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)

	raw, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", subscription.ErrInvalidKeyFormat, err)
	}
	return raw, nil
}

// EncodePublicKey is the inverse of DecodePublicKey: unpadded base64url.
func EncodePublicKey(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ValidateApplicationServerKey checks that raw is an uncompressed P-256 point,
// the only form push services accept.
func ValidateApplicationServerKey(raw []byte) error {
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return fmt.Errorf("%w: not an uncompressed P-256 public key", subscription.ErrInvalidKeyFormat)
	}
	return nil
}
