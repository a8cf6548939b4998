package auth

import "errors"

// Error taxonomy shared by both providers. Provider-internal failures are
// mapped onto these at the provider boundary; transport code decides the
// HTTP status and never forwards backend detail.
var (
	// ErrNotAuthorized covers bad credentials and bad or expired
	// continuation tokens. The message is identical for unknown user and
	// wrong password so callers cannot enumerate accounts.
	ErrNotAuthorized = errors.New("incorrect username or password")

	// ErrCodeMismatch is returned when a one-time code is wrong.
	ErrCodeMismatch = errors.New("one-time code does not match")

	// ErrAccessTokenExpired is returned when a token's expiry has passed.
	ErrAccessTokenExpired = errors.New("access token has expired")

	// ErrInvalidAccessToken is returned for malformed or unverifiable tokens.
	ErrInvalidAccessToken = errors.New("invalid access token")

	// ErrRefreshUnsupported is returned by the local provider, which has
	// no refresh concept: clients simply sign in again.
	ErrRefreshUnsupported = errors.New("token refresh is not supported for local accounts")

	// ErrNotImplemented marks protocol steps a provider does not support.
	ErrNotImplemented = errors.New("operation is not supported by this provider")

	// ErrTemporaryPasswordExpired is distinct from ErrNotAuthorized so the
	// client can prompt for another reset instead of retrying the password.
	ErrTemporaryPasswordExpired = errors.New("temporary password has expired")

	// ErrNotFound deliberately covers both "no such account" and "email
	// does not match" in the reset flow.
	ErrNotFound = errors.New("account not found")
)
