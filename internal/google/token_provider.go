package google

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenProvider is the token source abstraction used by the calendar
// client. The daemon uses file-stored tokens; tests inject static
// providers.
type TokenProvider interface {
	// GetTokenForAccount retrieves an OAuth token for the account.
	GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error)

	// HasTokenForAccount reports whether a token exists for the
	// account.
	HasTokenForAccount(account string) bool
}

// FileTokenProvider provides tokens from per-account files under the
// user cache directory.
type FileTokenProvider struct{}

// NewFileTokenProvider creates a file-based token provider.
func NewFileTokenProvider() *FileTokenProvider {
	return &FileTokenProvider{}
}

// GetTokenForAccount retrieves a token from disk for the account.
func (p *FileTokenProvider) GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error) {
	ts, err := GetTokenSourceForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token for account %s: %w", account, err)
	}
	return token, nil
}

// HasTokenForAccount reports whether a token file exists for the
// account.
func (p *FileTokenProvider) HasTokenForAccount(account string) bool {
	return HasTokenForAccount(account)
}
