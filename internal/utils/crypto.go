// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}

// GenerateAPIKey returns a reviewer key of the form "<prefix>.<secret>". Only the prefix
// is stored in clear so keys can be looked up without scanning every hash.
func GenerateAPIKey() (prefix, secret string, err error) {
	prefix, err = GenerateRandomString(12)
	if err != nil {
		return "", "", err
	}
	secret, err = GenerateRandomString(40)
	if err != nil {
		return "", "", err
	}
	return "pk_" + prefix, secret, nil
}

func SplitAPIKey(raw string) (prefix, secret string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
