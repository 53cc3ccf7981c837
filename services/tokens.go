package services

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// 12 random bytes = 96 bits, 16 URL-safe characters.
const referrerTokenBytes = 12

// NewReferrerToken returns an opaque URL-safe token carried through the
// store's install-referrer mechanism.
func NewReferrerToken() (string, error) {
	b := make([]byte, referrerTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Uppercase alphanumerics without 0/O/1/I. 32 symbols so a byte maps with a mask.
const referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const referralCodeLength = 8

// NewReferralCode returns a short uppercase code suitable for URLs and for
// reading aloud. Uniqueness is enforced by the referrals table.
func NewReferralCode() (string, error) {
	b := make([]byte, referralCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range b {
		b[i] = referralCodeAlphabet[b[i]&31]
	}
	return string(b), nil
}
