package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shigotoin/authcore/internal/dbx"
	"github.com/shigotoin/authcore/internal/logging"
	"github.com/shigotoin/authcore/internal/server/email"
	"github.com/shigotoin/authcore/internal/server/models"
	"github.com/shigotoin/authcore/internal/server/repositories/repomanager"
	"github.com/shigotoin/authcore/internal/server/repositories/users"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// LocalProvider implements the authentication protocol against the
// credential store. Tokens are stateless HS256 JWTs, so there is nothing
// to refresh or revoke server-side.
type LocalProvider struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	codec  *TokenCodec
	mailer email.Sender

	resetTemplate     string
	challengeValidity time.Duration
	tempPassValidity  time.Duration

	log logging.Logger
	now func() time.Time
}

// LocalProviderOptions groups the knobs NewLocalProvider needs beyond its
// collaborators.
type LocalProviderOptions struct {
	ResetTemplate             string
	ChallengeValidity         time.Duration
	TemporaryPasswordValidity time.Duration
}

func NewLocalProvider(db *sql.DB, repos repomanager.RepositoryManager, codec *TokenCodec, mailer email.Sender, opts LocalProviderOptions, log logging.Logger) *LocalProvider {
	return &LocalProvider{
		db:                db,
		repos:             repos,
		codec:             codec,
		mailer:            mailer,
		resetTemplate:     opts.ResetTemplate,
		challengeValidity: opts.ChallengeValidity,
		tempPassValidity:  opts.TemporaryPasswordValidity,
		log:               log,
		now:               time.Now,
	}
}

func (p *LocalProvider) SignIn(ctx context.Context, username, password, challengeName string) (*SignInResult, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	cred, err := p.findAccount(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}

	if !cred.Active || !cred.HashedPassword.Valid {
		return nil, ErrNotAuthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.HashedPassword.String), []byte(password)); err != nil {
		return nil, ErrNotAuthorized
	}

	// Expiry is checked before the temporary flag: an expired temporary
	// password must not open a password-change path.
	if cred.TemporaryPasswordExpired(p.now()) {
		return nil, ErrTemporaryPasswordExpired
	}

	if cred.PasswordTemporary {
		session, err := p.codec.IssueContinuation(cred.Username, cred.ID, ChallengeNewPasswordRequired, p.challengeValidity)
		if err != nil {
			return nil, fmt.Errorf("issuing continuation token: %w", err)
		}
		return &SignInResult{Challenge: &Challenge{
			Name:     ChallengeNewPasswordRequired,
			Username: cred.Username,
			Session:  session,
		}}, nil
	}

	token, err := p.codec.Issue(cred.Username)
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}
	return &SignInResult{Token: token}, nil
}

func (p *LocalProvider) RespondToNewPasswordChallenge(ctx context.Context, username, session, newPassword string) (*SignInResult, error) {
	username = strings.TrimSpace(username)
	newPassword = strings.TrimSpace(newPassword)

	accountID, err := p.codec.VerifyContinuation(session, username, ChallengeNewPasswordRequired)
	if err != nil {
		return nil, err
	}

	cred, err := p.findAccount(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if cred.ID != accountID {
		return nil, ErrNotAuthorized
	}
	if cred.TemporaryPasswordExpired(p.now()) {
		return nil, ErrTemporaryPasswordExpired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt: %w", err)
	}

	cred.HashedPassword = sql.NullString{String: string(hash), Valid: true}
	cred.PasswordTemporary = false
	cred.PasswordExpiresAt = sql.NullTime{}

	if err := p.saveTx(ctx, cred); err != nil {
		return nil, err
	}

	token, err := p.codec.Issue(cred.Username)
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}
	return &SignInResult{Token: token}, nil
}

// RespondToEmailOTPChallenge is federated-only: local accounts have no
// multi-factor step.
func (p *LocalProvider) RespondToEmailOTPChallenge(ctx context.Context, username, session, code string) (*Token, error) {
	return nil, ErrNotImplemented
}

// RefreshToken is unsupported: local tokens are re-derived by signing in.
func (p *LocalProvider) RefreshToken(ctx context.Context, accessToken, refreshToken string) (*Token, error) {
	return nil, ErrRefreshUnsupported
}

// DiscardToken succeeds trivially: there is no server-side token state.
func (p *LocalProvider) DiscardToken(ctx context.Context, accessToken, refreshToken string) bool {
	return true
}

func (p *LocalProvider) GetTokenInfo(ctx context.Context, accessToken string, expiresIn int, issuedTime float64) (*TokenData, error) {
	username, err := p.codec.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	return &TokenData{Username: username}, nil
}

func (p *LocalProvider) ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error {
	oldPassword = strings.TrimSpace(oldPassword)
	newPassword = strings.TrimSpace(newPassword)

	username, err := p.codec.Verify(accessToken)
	if err != nil {
		return err
	}

	cred, err := p.findAccount(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	if !cred.HashedPassword.Valid {
		return ErrNotAuthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.HashedPassword.String), []byte(oldPassword)); err != nil {
		return ErrNotAuthorized
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("bcrypt: %w", err)
	}

	cred.HashedPassword = sql.NullString{String: string(hash), Valid: true}
	cred.PasswordTemporary = false
	cred.PasswordExpiresAt = sql.NullTime{}

	return p.saveTx(ctx, cred)
}

func (p *LocalProvider) ForgotPassword(ctx context.Context, username, emailAddr string) (*ResetReceipt, error) {
	username = strings.TrimSpace(username)
	emailAddr = strings.TrimSpace(emailAddr)

	cred, err := p.findAccount(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// The same ErrNotFound for a wrong email keeps the response from
	// confirming that the username alone was valid.
	if emailAddr != "" && cred.Email != emailAddr {
		return nil, ErrNotFound
	}

	temporary, err := GenerateTemporaryPassword(temporaryPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("generating temporary password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(temporary), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt: %w", err)
	}

	// Snapshot for the compensating write below.
	prevHash := cred.HashedPassword
	prevTemporary := cred.PasswordTemporary
	prevExpiry := cred.PasswordExpiresAt

	cred.HashedPassword = sql.NullString{String: string(hash), Valid: true}
	cred.PasswordTemporary = true
	cred.PasswordExpiresAt = sql.NullTime{Time: p.now().Add(p.tempPassValidity), Valid: true}

	if err := p.saveTx(ctx, cred); err != nil {
		return nil, err
	}

	messageID, err := p.mailer.SendTemplated(ctx, p.resetTemplate, cred.Email, map[string]string{
		"username":           cred.Username,
		"temporary_password": temporary,
	})
	if err != nil {
		// A changed password the user was never told about is worse than
		// a failed reset: restore the previous credential state.
		cred.HashedPassword = prevHash
		cred.PasswordTemporary = prevTemporary
		cred.PasswordExpiresAt = prevExpiry
		if rbErr := p.saveTx(ctx, cred); rbErr != nil {
			p.log.Error(ctx, "rollback of temporary password failed", "username", cred.Username, "error", rbErr)
		}
		return nil, fmt.Errorf("sending temporary password: %w", err)
	}

	return resetReceipt(cred.Email, messageID), nil
}

func (p *LocalProvider) findAccount(ctx context.Context, identifier string) (*models.Credential, error) {
	return p.repos.Users(p.db).FindByUsernameOrEmail(ctx, identifier)
}

func (p *LocalProvider) saveTx(ctx context.Context, cred *models.Credential) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return p.repos.Users(tx).Save(ctx, cred)
	})
}
