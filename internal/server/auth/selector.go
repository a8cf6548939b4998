package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shigotoin/authcore/internal/server/models"
	"github.com/shigotoin/authcore/internal/server/repositories/repomanager"
	"github.com/shigotoin/authcore/internal/server/repositories/users"
)

// Selector routes each request to the backend that owns the account.
// Before authentication the stored auth method decides; after
// authentication the token's issuer claim decides.
type Selector struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	local     Provider
	federated Provider
}

func NewSelector(db *sql.DB, repos repomanager.RepositoryManager, local, federated Provider) *Selector {
	return &Selector{db: db, repos: repos, local: local, federated: federated}
}

// ForUsername picks the provider for a pre-authentication operation.
// An unknown identifier routes to the local provider, whose failure mode
// is indistinguishable from a wrong password; returning a routing error
// here would confirm the account does not exist.
func (s *Selector) ForUsername(ctx context.Context, identifier string) (Provider, error) {
	cred, err := s.repos.Users(s.db).FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return s.local, nil
		}
		return nil, err
	}
	if cred.AuthMethod == models.AuthMethodFederated {
		return s.federated, nil
	}
	return s.local, nil
}

// ForToken picks the provider for a post-authentication operation by
// sniffing the unverified issuer claim. The claim is only used for
// routing; the chosen provider still verifies the signature, so a forged
// issuer buys an attacker nothing but a different rejection path.
func (s *Selector) ForToken(accessToken string) Provider {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		// Unparseable tokens go local, where verification fails cleanly.
		return s.local
	}
	issuer, err := token.Claims.GetIssuer()
	if err != nil || issuer == LocalIssuer {
		return s.local
	}
	return s.federated
}
