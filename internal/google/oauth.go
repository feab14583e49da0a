package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"
)

// OOB is the out-of-band redirect for copy/paste authorization codes.
const oobRedirect = "urn:ietf:wg:oauth:2.0:oob"

// GetOAuthConfig returns the OAuth2 configuration for the calendar
// client. Client credentials are read from the environment.
func GetOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		Endpoint:     googleauth.Endpoint,
		RedirectURL:  oobRedirect,
		Scopes:       OAuthScopes,
	}
}

// HasTokenForAccount reports whether a stored token exists for the
// account.
func HasTokenForAccount(account string) bool {
	path, err := tokenPath(account)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// GetAuthURLForAccount returns the authorization URL the operator
// visits to grant calendar access for the account.
func GetAuthURLForAccount(account string) string {
	return GetOAuthConfig().AuthCodeURL("state-" + account)
}

// SaveTokenForAccount exchanges an authorization code and persists the
// resulting token for the account.
func SaveTokenForAccount(ctx context.Context, account, authCode string) error {
	conf := GetOAuthConfig()

	token, err := conf.Exchange(ctx, authCode)
	if err != nil {
		return fmt.Errorf("exchanging auth code for account %s: %w", account, err)
	}

	path, err := tokenPath(account)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// GetTokenSourceForAccount returns an auto-refreshing token source for
// the account's stored token.
func GetTokenSourceForAccount(ctx context.Context, account string) (oauth2.TokenSource, error) {
	path, err := tokenPath(account)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no stored Google OAuth token for account %s", account)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parsing token file for account %s: %w", account, err)
	}

	return GetOAuthConfig().TokenSource(ctx, &token), nil
}

// tokenPath returns the token file path for an account. Account names
// are restricted to filename-safe characters so a crafted account name
// cannot escape the cache directory.
func tokenPath(account string) (string, error) {
	if account == "" {
		return "", fmt.Errorf("account name is required")
	}
	if strings.ContainsAny(account, "/\\.") {
		return "", fmt.Errorf("invalid account name %q", account)
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving cache directory: %w", err)
	}
	return filepath.Join(dir, "meetnotes", account+".token"), nil
}
