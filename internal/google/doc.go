// Package google handles OAuth2 authentication against Google for the
// calendar polling client.
//
// Tokens are stored per account under the user cache directory
// (~/.cache/meetnotes/<account>.token). The TokenProvider interface
// decouples clients from the storage mechanism so tests can inject
// static tokens.
//
// The OAuth client ID and secret come from the GOOGLE_CLIENT_ID and
// GOOGLE_CLIENT_SECRET environment variables; there are no embedded
// application credentials.
package google
