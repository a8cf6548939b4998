// Package auth implements the dual-provider authentication core: one
// protocol contract served by a local password store and by a federated
// identity service, plus the codecs and selection logic around it.
package auth

import "context"

// Challenge kinds. The set is open: the federated backend may introduce
// kinds this code has never seen, and they are relayed verbatim.
const (
	ChallengeNewPasswordRequired = "NEW_PASSWORD_REQUIRED"
	ChallengeEmailOTP            = "EMAIL_OTP"
)

// Token is an issued bearer credential. It is never persisted server-side;
// the transport layer folds it into the session cookie and forgets it.
type Token struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	IssuedAt     float64
}

// Challenge says authentication is incomplete and more client input is
// required. Session is the opaque continuation token supplied by the
// authenticating backend; it must survive a round trip through the
// session cookie so a later request can resume the flow statelessly.
type Challenge struct {
	Name     string
	Username string
	Session  string
}

// TokenData is the minimal identity extracted from a verified token.
type TokenData struct {
	Username string
}

// SignInResult carries either a Token or a Challenge, never both.
type SignInResult struct {
	Token     *Token
	Challenge *Challenge
}

// Delivery describes where the temporary password went, with the
// destination masked.
type Delivery struct {
	Destination    string `json:"Destination"`
	DeliveryMedium string `json:"DeliveryMedium"`
	AttributeName  string `json:"AttributeName"`
	MessageID      string `json:"MessageId"`
}

// ResetReceipt is the caller-visible outcome of a forgot-password flow.
type ResetReceipt struct {
	Message  string   `json:"message"`
	Delivery Delivery `json:"delivery"`
}

// Provider is the authentication protocol implemented by both backends.
// Implementations map their internal failures onto the package error
// taxonomy before returning.
type Provider interface {
	// SignIn verifies a username/password pair. It returns a Token when
	// the session is established, or a Challenge when another interaction
	// is required. Inputs are trimmed before comparison.
	SignIn(ctx context.Context, username, password, challengeName string) (*SignInResult, error)

	// RespondToNewPasswordChallenge completes a NEW_PASSWORD_REQUIRED
	// challenge. The federated backend may answer with a follow-up
	// challenge instead of a token.
	RespondToNewPasswordChallenge(ctx context.Context, username, session, newPassword string) (*SignInResult, error)

	// RespondToEmailOTPChallenge completes an EMAIL_OTP challenge. The
	// local provider fails with ErrNotImplemented.
	RespondToEmailOTPChallenge(ctx context.Context, username, session, code string) (*Token, error)

	// RefreshToken exchanges a refresh token for fresh credentials. The
	// local provider fails with ErrRefreshUnsupported.
	RefreshToken(ctx context.Context, accessToken, refreshToken string) (*Token, error)

	// DiscardToken revokes tokens best-effort. It reports false rather
	// than failing when revocation partially fails.
	DiscardToken(ctx context.Context, accessToken, refreshToken string) bool

	// GetTokenInfo verifies the access token and extracts the subject.
	// expiresIn and issuedTime let the federated provider run a cheap
	// local expiry estimate before paying for signature verification.
	GetTokenInfo(ctx context.Context, accessToken string, expiresIn int, issuedTime float64) (*TokenData, error)

	// ChangePassword changes the password of the authenticated account.
	// On the federated side ErrNotAuthorized means the access token
	// expired, not that the old password was wrong; the caller refreshes
	// and retries exactly once.
	ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error

	// ForgotPassword issues a temporary password to the account's stored
	// email. A username/email mismatch fails with ErrNotFound and leaves
	// the account untouched.
	ForgotPassword(ctx context.Context, username, email string) (*ResetReceipt, error)
}
