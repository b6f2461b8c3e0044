package document

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateAccessCode produces a cryptographically random 12-character
// access code for a protected document.
func GenerateAccessCode() string {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
