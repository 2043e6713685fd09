// Package auth holds API credentials and produces the short-lived ES256 tokens
// the exchange expects on authenticated requests and channel subscriptions.
package auth

import (
	"fmt"
	"strings"
)

// Credential is an API key name and its PEM encoded EC private key.
// A Credential is never mutated after it is loaded and may be shared by many clients.
type Credential struct {
	// Name is the key name, e.g. "organizations/{org_id}/apiKeys/{key_id}".
	Name string `json:"name"`
	// Secret is the PEM encoded EC private key.
	Secret string `json:"privateKey"`
}

// NewCredential returns a Credential, normalizing escaped newlines in the secret
// as they appear when keys are pasted into environment files.
func NewCredential(name, secret string) *Credential {
	return &Credential{
		Name:   name,
		Secret: strings.ReplaceAll(secret, `\n`, "\n"),
	}
}

// Valid reports whether both the name and the secret are set.
func (c *Credential) Valid() bool {
	return c != nil && c.Name != "" && c.Secret != ""
}

func (c *Credential) String() string {
	if c == nil {
		return "Credential{}"
	}
	return fmt.Sprintf("Credential{Name:%s}", maskKey(c.Name))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
