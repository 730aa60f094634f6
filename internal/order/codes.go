package order

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet avoids characters easily misread over the phone (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const codeLength = 8

// NewTrackingCode generates a short human readable order code like
// "PO-7KQ2M4XE". Uniqueness is enforced by the database constraint; callers
// retry on collision.
func NewTrackingCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate tracking code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "PO-" + string(buf), nil
}
