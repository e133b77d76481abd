package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// ValidID reports whether value looks like an identifier minted by NewID:
// an optional short lowercase prefix followed by 32 hex characters.
func ValidID(value string) bool {
	body := value
	if i := strings.LastIndexByte(value, '_'); i >= 0 {
		prefix := value[:i]
		if prefix == "" || len(prefix) > 12 {
			return false
		}
		for _, r := range prefix {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
				return false
			}
		}
		body = value[i+1:]
	}
	if len(body) != 32 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}
