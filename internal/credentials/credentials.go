// Package credentials supplies the SSO username/password pair the
// session controller types into the Google login flow.
//
// The primary backend is the system keyring (macOS Keychain, Windows
// Credential Manager, Linux Secret Service). Headless hosts without a
// secret service can fall back to environment variables.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyring service name under which meetnotes stores SSO credentials.
const keyringService = "meetnotes-sso"

// ErrNotFound is returned when no credential is stored for an account.
var ErrNotFound = errors.New("credentials: not found")

// Credential is an SSO username/password pair for one account.
type Credential struct {
	Username string
	Password string
}

// Source looks up SSO credentials by account name.
type Source interface {
	Lookup(account string) (Credential, error)
}

// KeyringSource reads credentials from the system keyring. The
// username and password are stored as two keyring entries:
// "<account>/username" and "<account>/password".
type KeyringSource struct{}

// NewKeyringSource returns a keyring-backed credential source.
func NewKeyringSource() *KeyringSource {
	return &KeyringSource{}
}

// Lookup retrieves the credential pair for account from the keyring.
func (s *KeyringSource) Lookup(account string) (Credential, error) {
	if account == "" {
		return Credential{}, fmt.Errorf("credentials: account name is required")
	}

	username, err := keyring.Get(keyringService, account+"/username")
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("credentials: reading username for %s: %w", account, err)
	}

	password, err := keyring.Get(keyringService, account+"/password")
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("credentials: reading password for %s: %w", account, err)
	}

	return Credential{Username: username, Password: password}, nil
}

// Store writes the credential pair for account into the keyring.
func (s *KeyringSource) Store(account string, cred Credential) error {
	if account == "" {
		return fmt.Errorf("credentials: account name is required")
	}
	if err := keyring.Set(keyringService, account+"/username", cred.Username); err != nil {
		return fmt.Errorf("credentials: storing username for %s: %w", account, err)
	}
	if err := keyring.Set(keyringService, account+"/password", cred.Password); err != nil {
		return fmt.Errorf("credentials: storing password for %s: %w", account, err)
	}
	return nil
}

// Delete removes the credential pair for account from the keyring.
func (s *KeyringSource) Delete(account string) error {
	for _, key := range []string{account + "/username", account + "/password"} {
		if err := keyring.Delete(keyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("credentials: deleting %s: %w", key, err)
		}
	}
	return nil
}

// EnvSource reads credentials from environment variables, for headless
// hosts without a secret service. The account name is upcased with
// non-alphanumerics mapped to underscores:
// MEETNOTES_SSO_<ACCOUNT>_USERNAME / MEETNOTES_SSO_<ACCOUNT>_PASSWORD.
type EnvSource struct{}

// NewEnvSource returns an environment-variable credential source.
func NewEnvSource() *EnvSource {
	return &EnvSource{}
}

// Lookup retrieves the credential pair for account from the
// environment.
func (s *EnvSource) Lookup(account string) (Credential, error) {
	key := envKey(account)
	username := os.Getenv("MEETNOTES_SSO_" + key + "_USERNAME")
	password := os.Getenv("MEETNOTES_SSO_" + key + "_PASSWORD")
	if username == "" || password == "" {
		return Credential{}, ErrNotFound
	}
	return Credential{Username: username, Password: password}, nil
}

// Static is a fixed in-memory credential map, used by tests and for
// ad-hoc wiring.
type Static map[string]Credential

// Lookup retrieves the credential pair for account from the map.
func (s Static) Lookup(account string) (Credential, error) {
	cred, ok := s[account]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

// Chain tries each source in order, returning the first hit. Only
// ErrNotFound falls through; other errors stop the chain.
type Chain []Source

// Lookup tries each source in order.
func (c Chain) Lookup(account string) (Credential, error) {
	for _, src := range c {
		cred, err := src.Lookup(account)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Credential{}, err
		}
	}
	return Credential{}, ErrNotFound
}

// DefaultChain is the production lookup order: keyring first, then
// environment variables.
func DefaultChain() Chain {
	return Chain{NewKeyringSource(), NewEnvSource()}
}

func envKey(account string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, account)
	return mapped
}
