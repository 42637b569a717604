package secrets

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/crmarques/funcvault/faults"
)

const generatedSecretLengthBytes = 32

// GenerateSecretValue produces a new cryptographically random secret value.
func GenerateSecretValue() (string, error) {
	raw := make([]byte, generatedSecretLengthBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", faults.NewTypedError(faults.InternalError, "failed to generate secret value", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
