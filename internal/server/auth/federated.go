package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/shigotoin/authcore/internal/logging"
	"github.com/shigotoin/authcore/internal/server/email"
)

// expiryEstimateMargin is subtracted from a token's nominal lifetime in
// the cheap local expiry check, so a token about to expire fails fast
// instead of costing a verification round that would fail anyway.
const expiryEstimateMargin = 300

// CognitoAPI is the slice of the Cognito identity-provider client the
// federated provider uses.
type CognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, params *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
	GlobalSignOut(ctx context.Context, params *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
	RevokeToken(ctx context.Context, params *cip.RevokeTokenInput, optFns ...func(*cip.Options)) (*cip.RevokeTokenOutput, error)
	ChangePassword(ctx context.Context, params *cip.ChangePasswordInput, optFns ...func(*cip.Options)) (*cip.ChangePasswordOutput, error)
	AdminSetUserPassword(ctx context.Context, params *cip.AdminSetUserPasswordInput, optFns ...func(*cip.Options)) (*cip.AdminSetUserPasswordOutput, error)
	AdminGetUser(ctx context.Context, params *cip.AdminGetUserInput, optFns ...func(*cip.Options)) (*cip.AdminGetUserOutput, error)
}

// Seams for testing AWS config loading and client construction.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newCognitoClientFromConfig = func(cfg aws.Config) CognitoAPI {
		return cip.NewFromConfig(cfg)
	}
)

// FederatedProvider implements the authentication protocol against the
// remote identity service. It holds no state beyond its clients; the
// remote pool is the source of truth for federated accounts.
type FederatedProvider struct {
	client     CognitoAPI
	keys       *KeySet
	clientID   string
	userPoolID string
	mailer     email.Sender

	resetTemplate string

	log logging.Logger
	now func() time.Time
}

// FederatedProviderOptions carries the pool settings and reset template.
type FederatedProviderOptions struct {
	Region        string
	UserPoolID    string
	ClientID      string
	ResetTemplate string
}

// NewFederatedProvider builds a provider from an already-loaded AWS
// config. The key set is fetched lazily on first verification.
func NewFederatedProvider(awsCfg aws.Config, mailer email.Sender, opts FederatedProviderOptions, log logging.Logger) *FederatedProvider {
	return &FederatedProvider{
		client:        newCognitoClientFromConfig(awsCfg),
		keys:          NewKeySet(opts.Region, opts.UserPoolID, opts.ClientID),
		clientID:      opts.ClientID,
		userPoolID:    opts.UserPoolID,
		mailer:        mailer,
		resetTemplate: opts.ResetTemplate,
		log:           log,
		now:           time.Now,
	}
}

// LoadAWSConfig loads the AWS configuration for the given region.
// Explicit credentials take precedence; otherwise the default chain
// applies. Exposed so the app can share one config between the identity
// and mail clients.
func LoadAWSConfig(ctx context.Context, region, accessKeyID, secretAccessKey string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	return loadDefaultAWSConfig(ctx, opts...)
}

func (p *FederatedProvider) SignIn(ctx context.Context, username, password, challengeName string) (*SignInResult, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	out, err := p.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(p.clientID),
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return nil, p.mapAuthError(ctx, "sign-in", err)
	}

	switch out.ChallengeName {
	case ciptypes.ChallengeNameTypeNewPasswordRequired,
		ciptypes.ChallengeNameTypeSmsMfa,
		ciptypes.ChallengeNameTypeSoftwareTokenMfa,
		ciptypes.ChallengeNameTypeEmailOtp:
		return &SignInResult{Challenge: &Challenge{
			Name:     string(out.ChallengeName),
			Username: username,
			Session:  aws.ToString(out.Session),
		}}, nil
	case "":
		if out.AuthenticationResult == nil {
			return nil, fmt.Errorf("%w: empty authentication result", ErrNotAuthorized)
		}
		return &SignInResult{Token: p.tokenFromResult(out.AuthenticationResult, "")}, nil
	default:
		p.log.Error(ctx, "unsupported challenge from identity provider", "challenge", string(out.ChallengeName))
		return nil, fmt.Errorf("%w: challenge %s", ErrNotImplemented, out.ChallengeName)
	}
}

func (p *FederatedProvider) RespondToNewPasswordChallenge(ctx context.Context, username, session, newPassword string) (*SignInResult, error) {
	username = strings.TrimSpace(username)
	newPassword = strings.TrimSpace(newPassword)

	out, err := p.client.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName: ciptypes.ChallengeNameTypeNewPasswordRequired,
		ClientId:      aws.String(p.clientID),
		Session:       aws.String(session),
		ChallengeResponses: map[string]string{
			"USERNAME":     username,
			"NEW_PASSWORD": newPassword,
		},
	})
	if err != nil {
		return nil, p.mapAuthError(ctx, "new-password challenge", err)
	}

	if out.AuthenticationResult != nil {
		return &SignInResult{Token: p.tokenFromResult(out.AuthenticationResult, "")}, nil
	}

	// The backend can demand a multi-factor follow-up before releasing
	// tokens.
	if out.ChallengeName == ciptypes.ChallengeNameTypeEmailOtp {
		return &SignInResult{Challenge: &Challenge{
			Name:     string(out.ChallengeName),
			Username: username,
			Session:  aws.ToString(out.Session),
		}}, nil
	}

	return nil, fmt.Errorf("%w: challenge %s", ErrNotImplemented, out.ChallengeName)
}

func (p *FederatedProvider) RespondToEmailOTPChallenge(ctx context.Context, username, session, code string) (*Token, error) {
	username = strings.TrimSpace(username)
	code = strings.TrimSpace(code)

	out, err := p.client.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName: ciptypes.ChallengeNameTypeEmailOtp,
		ClientId:      aws.String(p.clientID),
		Session:       aws.String(session),
		ChallengeResponses: map[string]string{
			"USERNAME":       username,
			"EMAIL_OTP_CODE": code,
		},
	})
	if err != nil {
		return nil, p.mapAuthError(ctx, "email-otp challenge", err)
	}
	if out.AuthenticationResult == nil {
		return nil, fmt.Errorf("%w: empty authentication result", ErrNotAuthorized)
	}

	return p.tokenFromResult(out.AuthenticationResult, ""), nil
}

func (p *FederatedProvider) RefreshToken(ctx context.Context, accessToken, refreshToken string) (*Token, error) {
	out, err := p.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeRefreshTokenAuth,
		ClientId: aws.String(p.clientID),
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": refreshToken,
		},
	})
	if err != nil {
		return nil, p.mapAuthError(ctx, "refresh", err)
	}
	if out.AuthenticationResult == nil {
		return nil, fmt.Errorf("%w: empty refresh result", ErrNotAuthorized)
	}

	// The refresh response carries no refresh token; the one presented
	// stays valid and rides along unchanged.
	return p.tokenFromResult(out.AuthenticationResult, refreshToken), nil
}

// DiscardToken signs the user out globally and revokes the refresh token.
// Both calls are best-effort: a partial failure yields false, never an
// error, so sign-out always completes for the client.
func (p *FederatedProvider) DiscardToken(ctx context.Context, accessToken, refreshToken string) bool {
	ok := true

	if accessToken != "" {
		if _, err := p.client.GlobalSignOut(ctx, &cip.GlobalSignOutInput{
			AccessToken: aws.String(accessToken),
		}); err != nil {
			p.log.Warn(ctx, "global sign-out failed", "error", err)
			ok = false
		}
	}

	if refreshToken != "" {
		if _, err := p.client.RevokeToken(ctx, &cip.RevokeTokenInput{
			ClientId: aws.String(p.clientID),
			Token:    aws.String(refreshToken),
		}); err != nil {
			p.log.Warn(ctx, "token revocation failed", "error", err)
			ok = false
		}
	}

	return ok
}

func (p *FederatedProvider) GetTokenInfo(ctx context.Context, accessToken string, expiresIn int, issuedTime float64) (*TokenData, error) {
	if accessToken == "" {
		return nil, ErrInvalidAccessToken
	}

	// Cheap local estimate first so most expired tokens never cost a
	// signature verification.
	elapsed := float64(p.now().UnixNano())/float64(time.Second) - issuedTime
	if elapsed >= float64(expiresIn-expiryEstimateMargin) {
		return nil, ErrAccessTokenExpired
	}

	claims, err := p.keys.Verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	username, _ := claims["username"].(string)
	if username == "" {
		return nil, fmt.Errorf("%w: no subject claim", ErrInvalidAccessToken)
	}
	return &TokenData{Username: username}, nil
}

func (p *FederatedProvider) ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error {
	oldPassword = strings.TrimSpace(oldPassword)
	newPassword = strings.TrimSpace(newPassword)

	_, err := p.client.ChangePassword(ctx, &cip.ChangePasswordInput{
		AccessToken:      aws.String(accessToken),
		PreviousPassword: aws.String(oldPassword),
		ProposedPassword: aws.String(newPassword),
	})
	if err != nil {
		// NotAuthorized here means the access token expired, not that the
		// old password was wrong; the caller refreshes and retries once.
		return p.mapAuthError(ctx, "change password", err)
	}
	return nil
}

func (p *FederatedProvider) ForgotPassword(ctx context.Context, username, emailAddr string) (*ResetReceipt, error) {
	username = strings.TrimSpace(username)
	emailAddr = strings.TrimSpace(emailAddr)

	// Resolve the stored address before writing anything so a mismatch
	// never mutates the remote account.
	storedEmail, err := p.lookupEmail(ctx, username)
	if err != nil {
		return nil, err
	}
	if emailAddr != "" && storedEmail != emailAddr {
		return nil, ErrNotFound
	}

	temporary, err := GenerateTemporaryPassword(temporaryPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("generating temporary password: %w", err)
	}

	if err := p.setTemporaryPassword(ctx, username, temporary); err != nil {
		return nil, err
	}

	messageID, err := p.mailer.SendTemplated(ctx, p.resetTemplate, storedEmail, map[string]string{
		"username":           username,
		"temporary_password": temporary,
	})
	if err != nil {
		// The remote pool cannot restore the previous password, so the
		// rollback invalidates the undelivered one: the account stays in
		// the forced-change state but the credential nobody received is
		// unusable.
		if discard, genErr := GenerateTemporaryPassword(temporaryPasswordLength); genErr == nil {
			if rbErr := p.setTemporaryPassword(ctx, username, discard); rbErr != nil {
				p.log.Error(ctx, "invalidating undelivered temporary password failed", "username", username, "error", rbErr)
			}
		}
		return nil, fmt.Errorf("sending temporary password: %w", err)
	}

	return resetReceipt(storedEmail, messageID), nil
}

func (p *FederatedProvider) setTemporaryPassword(ctx context.Context, username, password string) error {
	_, err := p.client.AdminSetUserPassword(ctx, &cip.AdminSetUserPasswordInput{
		UserPoolId: aws.String(p.userPoolID),
		Username:   aws.String(username),
		Password:   aws.String(password),
		Permanent:  false,
	})
	if err != nil {
		var notFound *ciptypes.UserNotFoundException
		if errors.As(err, &notFound) {
			return ErrNotFound
		}
		return fmt.Errorf("setting temporary password: %w", err)
	}
	return nil
}

func (p *FederatedProvider) lookupEmail(ctx context.Context, username string) (string, error) {
	out, err := p.client.AdminGetUser(ctx, &cip.AdminGetUserInput{
		UserPoolId: aws.String(p.userPoolID),
		Username:   aws.String(username),
	})
	if err != nil {
		var notFound *ciptypes.UserNotFoundException
		if errors.As(err, &notFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolving account: %w", err)
	}

	for _, attr := range out.UserAttributes {
		if aws.ToString(attr.Name) == "email" {
			return aws.ToString(attr.Value), nil
		}
	}
	return "", ErrNotFound
}

// mapAuthError folds provider-internal failures into the package
// taxonomy. Detail is logged, never returned: unknown-user and
// wrong-password surface identically.
func (p *FederatedProvider) mapAuthError(ctx context.Context, op string, err error) error {
	var notAuthorized *ciptypes.NotAuthorizedException
	var userNotFound *ciptypes.UserNotFoundException
	if errors.As(err, &notAuthorized) || errors.As(err, &userNotFound) {
		return ErrNotAuthorized
	}

	var codeMismatch *ciptypes.CodeMismatchException
	if errors.As(err, &codeMismatch) {
		return ErrCodeMismatch
	}

	var expiredCode *ciptypes.ExpiredCodeException
	if errors.As(err, &expiredCode) {
		return ErrNotAuthorized
	}

	p.log.Error(ctx, "identity provider call failed", "op", op, "error", err)
	return fmt.Errorf("identity provider %s: %w", op, err)
}

func (p *FederatedProvider) tokenFromResult(r *ciptypes.AuthenticationResultType, refreshToken string) *Token {
	tokenType := aws.ToString(r.TokenType)
	if tokenType == "" {
		tokenType = "Bearer"
	}
	if rt := aws.ToString(r.RefreshToken); rt != "" {
		refreshToken = rt
	}
	return &Token{
		AccessToken:  aws.ToString(r.AccessToken),
		IDToken:      aws.ToString(r.IdToken),
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresIn:    int(r.ExpiresIn),
		IssuedAt:     float64(p.now().UnixNano()) / float64(time.Second),
	}
}
