package models

import (
	"database/sql"
	"time"
)

// AuthMethod tags which backend owns a credential.
type AuthMethod string

const (
	AuthMethodLocal     AuthMethod = "local"
	AuthMethodFederated AuthMethod = "federated"
)

// Credential is one user account row. For federated accounts the password
// fields are owned by the identity provider and stay NULL/false here.
type Credential struct {
	ID                int64
	Username          string
	Email             string
	Nickname          string
	HashedPassword    sql.NullString
	Active            bool
	AuthMethod        AuthMethod
	PasswordTemporary bool
	PasswordExpiresAt sql.NullTime
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TemporaryPasswordExpired reports whether the account carries an expired
// temporary password at the given instant.
func (c *Credential) TemporaryPasswordExpired(now time.Time) bool {
	return c.PasswordExpiresAt.Valid && now.After(c.PasswordExpiresAt.Time)
}
