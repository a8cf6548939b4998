// Package session packs authentication state into a single opaque
// browser cookie. There is no server-side session store: the cookie
// value IS the session, so anything a later request needs (tokens,
// in-flight challenge state) must survive the round trip through
// Encode and Decode.
package session

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/shigotoin/authcore/internal/server/auth"
)

// CookieName is the session cookie's name.
const CookieName = "ad"

// Payload keys. Short on purpose: the cookie rides on every request.
// Numeric fields are stored as strings so the payload stays a flat
// string mapping.
const (
	keyAccessToken  = "at"
	keyRefreshToken = "rt"
	keyTokenType    = "tt"
	keyExpiresIn    = "exp"
	keyIssuedTime   = "iss"

	keyChallengeUser    = "user"
	keyChallengeSession = "sess"
)

// Token is the authenticated session state parsed from a cookie.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	IssuedTime   float64
}

// Challenge is the in-flight challenge state parsed from a cookie.
type Challenge struct {
	Username string
	Session  string
}

// Encode serializes a payload to a cookie-safe string: JSON, gzipped,
// then base64.
func Encode(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. It never fails: any undecodable value, from a
// stale cookie format to plain garbage, yields an empty payload, which
// downstream reads as "not signed in".
func Decode(value string) map[string]any {
	compressed, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return map[string]any{}
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return map[string]any{}
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return map[string]any{}
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return map[string]any{}
	}
	return payload
}

// FromToken builds the payload for an established session. The ID token
// is deliberately not carried: nothing downstream reads it, and the
// cookie has a 4KB budget.
func FromToken(t *auth.Token) map[string]any {
	payload := map[string]any{
		keyAccessToken: t.AccessToken,
		keyTokenType:   t.TokenType,
		keyExpiresIn:   strconv.Itoa(t.ExpiresIn),
		keyIssuedTime:  strconv.FormatFloat(t.IssuedAt, 'f', -1, 64),
	}
	if t.RefreshToken != "" {
		payload[keyRefreshToken] = t.RefreshToken
	}
	return payload
}

// FromChallenge builds the payload for an in-flight challenge. Only the
// username and the backend's continuation token are carried; the
// challenge kind is implied by which endpoint the client answers on.
func FromChallenge(c *auth.Challenge) map[string]any {
	return map[string]any{
		keyChallengeUser:    c.Username,
		keyChallengeSession: c.Session,
	}
}

// ParseToken extracts authenticated session state. ok is false when any
// required key is missing, a numeric field does not parse, or the token
// type is not bearer.
func ParseToken(payload map[string]any) (Token, bool) {
	accessToken, okAT := stringValue(payload, keyAccessToken)
	tokenType, okTT := stringValue(payload, keyTokenType)
	expiresIn, okExp := intValue(payload, keyExpiresIn)
	issuedTime, okIss := floatValue(payload, keyIssuedTime)
	if !okAT || !okTT || !okExp || !okIss {
		return Token{}, false
	}
	if !strings.EqualFold(tokenType, "bearer") {
		return Token{}, false
	}

	refreshToken, _ := stringValue(payload, keyRefreshToken)
	return Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresIn:    expiresIn,
		IssuedTime:   issuedTime,
	}, true
}

// ParseChallenge extracts in-flight challenge state.
func ParseChallenge(payload map[string]any) (Challenge, bool) {
	username, okU := stringValue(payload, keyChallengeUser)
	continuation, okS := stringValue(payload, keyChallengeSession)
	if !okU || !okS || username == "" || continuation == "" {
		return Challenge{}, false
	}
	return Challenge{Username: username, Session: continuation}, true
}

func stringValue(payload map[string]any, key string) (string, bool) {
	s, ok := payload[key].(string)
	return s, ok
}

// intValue tolerates both the canonical string encoding and a raw JSON
// number, so older cookie layouts keep decoding.
func intValue(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	case float64:
		return int(v), true
	}
	return 0, false
}

func floatValue(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	case float64:
		return v, true
	}
	return 0, false
}
