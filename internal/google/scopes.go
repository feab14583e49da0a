package google

// OAuthScopes are the Google OAuth scopes the daemon requests. The
// calendar is only ever read (the bot never creates or modifies
// events), so the read-only scope is sufficient.
var OAuthScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/calendar.readonly",
}
