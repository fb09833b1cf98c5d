package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Keychain is the exported secret-store handle. It backs the API token
// used by the HTTP server and the CLI client.
type Keychain struct{}

func NewKeychain() Keychain { return Keychain{} }

func (Keychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (Keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the local API bearer token, generating and storing
// a new one on first use. STUDYCIRCLE_API_TOKEN overrides the stored value.
func GetAPIToken(kc Keychain) (string, error) {
	if env := strings.TrimSpace(os.Getenv("STUDYCIRCLE_API_TOKEN")); env != "" {
		return env, nil
	}

	if tok, err := kc.Get("studycircle", "api_token"); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := kc.Set("studycircle", "api_token", tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
