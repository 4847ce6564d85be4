package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ActivationCodeLength is the number of characters in an invite code.
const ActivationCodeLength = 8

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// NewActivationCode returns a random upper-case alphanumeric invite code.
func NewActivationCode() (string, error) {
	buf := make([]byte, ActivationCodeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
