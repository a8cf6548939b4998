package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// LocalIssuer marks locally issued tokens. The selector sniffs this value
// out of unverified claims to route post-authentication requests.
const LocalIssuer = "authcore/local"

// TokenCodec signs and verifies locally issued bearer tokens and the
// continuation tokens that carry multi-step challenge state. Everything
// is HS256 under one shared secret.
type TokenCodec struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewTokenCodec(secret []byte, validity time.Duration) *TokenCodec {
	return &TokenCodec{secret: secret, validity: validity, now: time.Now}
}

type continuationClaims struct {
	jwt.RegisteredClaims
	AccountID     int64  `json:"aid"`
	ChallengeKind string `json:"chk"`
}

// Issue mints an access token with the account username as subject.
func (c *TokenCodec) Issue(username string) (*Token, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    LocalIssuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(c.validity)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, err
	}

	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(c.validity.Seconds()),
		IssuedAt:    float64(now.UnixNano()) / float64(time.Second),
	}, nil
}

// Verify checks signature and expiry and returns the subject username.
func (c *TokenCodec) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrAccessTokenExpired
		}
		return "", ErrInvalidAccessToken
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidAccessToken
	}

	return claims.Subject, nil
}

// IssueContinuation mints the signed, time-bounded token that lets the
// next request resume a challenge without any server-side session row.
func (c *TokenCodec) IssueContinuation(username string, accountID int64, kind string, validity time.Duration) (string, error) {
	now := c.now()
	claims := continuationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    LocalIssuer,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		AccountID:     accountID,
		ChallengeKind: kind,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// VerifyContinuation validates a continuation token against the expected
// username and challenge kind and returns the embedded account id. Every
// failure collapses into ErrNotAuthorized: the caller learns nothing
// about which part of the token was wrong.
func (c *TokenCodec) VerifyContinuation(session, username, kind string) (int64, error) {
	claims := &continuationClaims{}

	token, err := jwt.ParseWithClaims(session, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid {
		return 0, ErrNotAuthorized
	}
	if claims.Subject != username || claims.ChallengeKind != kind {
		return 0, ErrNotAuthorized
	}

	return claims.AccountID, nil
}

func (c *TokenCodec) keyFunc(t *jwt.Token) (interface{}, error) {
	return c.secret, nil
}
