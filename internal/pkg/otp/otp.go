package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Length is the number of digits in a generated code.
const Length = 6

var codeSpace = big.NewInt(1_000_000) // 10^Length — keeps the draw uniform

// Generate returns a 6-digit numeric code and its bcrypt hash. The
// plaintext goes to the mailer; only the hash may be persisted.
func Generate(cost int) (plaintext, hash string, err error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", "", fmt.Errorf("generate otp: %w", err)
	}
	plaintext = fmt.Sprintf("%06d", n.Int64())
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", "", fmt.Errorf("hash otp: %w", err)
	}
	return plaintext, string(h), nil
}

// Matches compares a submitted code against a stored hash. bcrypt's
// comparison is constant-time, so equality failures leak no timing signal.
func Matches(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
