package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the recommended minimum length for shared secrets.
	MinSecretLength = 40

	// MinEntropy is the minimum Shannon entropy threshold for secrets.
	MinEntropy = 3.5

	// generatedSecretBytes encodes to 48 hex characters.
	generatedSecretBytes = 24
)

var placeholderSecrets = map[string]bool{
	"replace-with-secret":     true,
	"github-webhook-password": true,
	"topsecret":               true,
	"secret":                  true,
	"password":                true,
	"changeme":                true,
	"your-webhook-secret":     true,
	"your-access-token":       true,
}

// IsPlaceholderSecret reports whether secret is a known example value that
// must never be used in a running supervisor.
func IsPlaceholderSecret(secret string) bool {
	lower := strings.ToLower(strings.TrimSpace(secret))
	if placeholderSecrets[lower] {
		return true
	}
	return strings.Contains(lower, "replace") || strings.Contains(lower, "changeme")
}

// ValidateSecret ensures a shared secret meets the strength requirements:
// minimum length, not a placeholder, sufficient Shannon entropy.
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	if IsPlaceholderSecret(secret) {
		return fmt.Errorf("secret appears to be a placeholder value, please use a real secret")
	}

	entropy := calculateEntropy(secret)
	if entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret creates a cryptographically secure random secret
// as 48 lowercase hex characters.
func GenerateSecret() (string, error) {
	buf := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TokenEqual compares a presented token with the expected one in constant
// time. An empty expected token never matches.
func TokenEqual(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// calculateEntropy computes the Shannon entropy of a string in bits per symbol.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len(s))

	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// IsWeakSecret performs a quick check if a secret is obviously weak.
// This is used for warning messages without failing validation.
func IsWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}

	// All same character
	if len(strings.Trim(secret, string(secret[0]))) == 0 {
		return true
	}

	if isSequential(secret) {
		return true
	}

	return calculateEntropy(secret) < 2.5
}

// isSequential checks if a string consists of sequential characters.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	// If more than 70% of characters are sequential, it's weak
	return float64(sequential) > float64(len(s))*0.7
}
