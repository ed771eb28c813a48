package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// charset is intentionally lowercase-only so IDs survive case-insensitive
// transports (URLs, headers) without ambiguity.
const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSecureID returns an ID of the form "<prefix>_<length random chars>"
// using crypto/rand, e.g. "turn_a3f8d2k9p1m4n7q2".
func GenerateSecureID(prefix string, length int) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("idgen: empty prefix")
	}
	if length <= 0 {
		return "", fmt.Errorf("idgen: invalid length %d", length)
	}

	var sb strings.Builder
	sb.Grow(len(prefix) + 1 + length)
	sb.WriteString(prefix)
	sb.WriteByte('_')

	max := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("idgen: read random: %w", err)
		}
		sb.WriteByte(charset[n.Int64()])
	}

	return sb.String(), nil
}

// ValidateIDFormat reports whether id looks like "<prefix>_<suffix>" with a
// non-empty suffix drawn from the generator charset.
func ValidateIDFormat(id, prefix string) bool {
	want := prefix + "_"
	if !strings.HasPrefix(id, want) {
		return false
	}

	suffix := id[len(want):]
	if suffix == "" {
		return false
	}
	for _, char := range suffix {
		if !((char >= 'a' && char <= 'z') || (char >= '0' && char <= '9')) {
			return false
		}
	}
	return true
}
