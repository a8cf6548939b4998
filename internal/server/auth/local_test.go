package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"github.com/shigotoin/authcore/internal/dbx"
	"github.com/shigotoin/authcore/internal/logging"
	"github.com/shigotoin/authcore/internal/server/models"
	"github.com/shigotoin/authcore/internal/server/repositories/users"
)

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, args ...any) {}
func (n nopLogger) With(args ...any) logging.Logger                  { return n }

// fakeUsersRepo keeps credentials by value so stored state is isolated
// from the pointers handed to the provider.
type fakeUsersRepo struct {
	creds   map[int64]models.Credential
	saveErr error
	saves   int
}

func newFakeUsersRepo(creds ...models.Credential) *fakeUsersRepo {
	repo := &fakeUsersRepo{creds: make(map[int64]models.Credential)}
	for _, c := range creds {
		repo.creds[c.ID] = c
	}
	return repo
}

func (r *fakeUsersRepo) Create(ctx context.Context, c *models.Credential) (*models.Credential, error) {
	c.ID = int64(len(r.creds) + 1)
	r.creds[c.ID] = *c
	return c, nil
}

func (r *fakeUsersRepo) FindByUsernameOrEmail(ctx context.Context, identifier string) (*models.Credential, error) {
	for _, c := range r.creds {
		if c.Username == identifier || c.Email == identifier {
			found := c
			return &found, nil
		}
	}
	return nil, users.ErrNotFound
}

func (r *fakeUsersRepo) Save(ctx context.Context, c *models.Credential) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.creds[c.ID]; !ok {
		return users.ErrNotFound
	}
	r.creds[c.ID] = *c
	r.saves++
	return nil
}

type fakeRepoManager struct {
	repo *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository                  { return m.repo }

// fakeMailer records sends and can be told to fail.
type fakeMailer struct {
	err       error
	messageID string
	sends     int
	recipient string
	vars      map[string]string
}

func (m *fakeMailer) SendTemplated(ctx context.Context, templateKey, recipient string, vars map[string]string) (string, error) {
	m.sends++
	m.recipient = recipient
	m.vars = vars
	if m.err != nil {
		return "", m.err
	}
	return m.messageID, nil
}

func hashFor(t *testing.T, password string) sql.NullString {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	return sql.NullString{String: string(hash), Valid: true}
}

func localCred(t *testing.T, password string) models.Credential {
	t.Helper()
	return models.Credential{
		ID:             1,
		Username:       "alice",
		Email:          "alice@example.com",
		HashedPassword: hashFor(t, password),
		Active:         true,
		AuthMethod:     models.AuthMethodLocal,
	}
}

func newLocalProviderWithMock(t *testing.T, repo *fakeUsersRepo, mailer *fakeMailer) (*LocalProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	codec := NewTokenCodec([]byte("super-secret"), 12*time.Hour)
	p := NewLocalProvider(db, &fakeRepoManager{repo: repo}, codec, mailer, LocalProviderOptions{
		ResetTemplate:             "temporary-password",
		ChallengeValidity:         24 * time.Hour,
		TemporaryPasswordValidity: 24 * time.Hour,
	}, nopLogger{})
	return p, mock
}

func TestLocalSignIn_Success(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "pa$$word"))
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	result, err := p.SignIn(context.Background(), "alice", "pa$$word", "")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if result.Token == nil || result.Challenge != nil {
		t.Fatalf("expected token result, got %+v", result)
	}
	if result.Token.ExpiresIn != 43200 {
		t.Fatalf("expires_in: got %d want 43200", result.Token.ExpiresIn)
	}

	subject, err := p.codec.Verify(result.Token.AccessToken)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("subject: got %q want alice", subject)
	}
}

func TestLocalSignIn_TrimsInput(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "pa$$word"))
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	result, err := p.SignIn(context.Background(), "  alice  ", "  pa$$word  ", "")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if result.Token == nil {
		t.Fatalf("expected token result")
	}
}

func TestLocalSignIn_FailureParity(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "pa$$word"))

	inactive := localCred(t, "pa$$word")
	inactive.ID = 2
	inactive.Username = "carol"
	inactive.Email = "carol@example.com"
	inactive.Active = false
	repo.creds[2] = inactive

	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "nope"},
		{"unknown user", "ghost", "pa$$word"},
		{"inactive user", "carol", "pa$$word"},
	}

	// Every failure mode must be the same error value so responses cannot
	// be used to probe which accounts exist.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.SignIn(context.Background(), tt.username, tt.password, "")
			if !errors.Is(err, ErrNotAuthorized) {
				t.Fatalf("want ErrNotAuthorized, got %v", err)
			}
		})
	}
}

func TestLocalSignIn_TemporaryPasswordChallenge(t *testing.T) {
	cred := localCred(t, "temp-pass")
	cred.PasswordTemporary = true
	cred.PasswordExpiresAt = sql.NullTime{Time: time.Now().Add(time.Hour), Valid: true}
	repo := newFakeUsersRepo(cred)
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	result, err := p.SignIn(context.Background(), "alice", "temp-pass", "")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if result.Challenge == nil || result.Token != nil {
		t.Fatalf("expected challenge result, got %+v", result)
	}
	if result.Challenge.Name != ChallengeNewPasswordRequired {
		t.Fatalf("challenge name: got %q", result.Challenge.Name)
	}
	if result.Challenge.Session == "" {
		t.Fatalf("challenge session is empty")
	}
}

func TestLocalSignIn_TemporaryPasswordExpired(t *testing.T) {
	cred := localCred(t, "temp-pass")
	cred.PasswordTemporary = true
	cred.PasswordExpiresAt = sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true}
	repo := newFakeUsersRepo(cred)
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	_, err := p.SignIn(context.Background(), "alice", "temp-pass", "")
	if !errors.Is(err, ErrTemporaryPasswordExpired) {
		t.Fatalf("want ErrTemporaryPasswordExpired, got %v", err)
	}
}

func TestLocalNewPasswordChallenge_Success(t *testing.T) {
	cred := localCred(t, "temp-pass")
	cred.PasswordTemporary = true
	cred.PasswordExpiresAt = sql.NullTime{Time: time.Now().Add(time.Hour), Valid: true}
	repo := newFakeUsersRepo(cred)
	p, mock := newLocalProviderWithMock(t, repo, &fakeMailer{})

	signIn, err := p.SignIn(context.Background(), "alice", "temp-pass", "")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := p.RespondToNewPasswordChallenge(context.Background(), "alice", signIn.Challenge.Session, "brand-new-pass")
	if err != nil {
		t.Fatalf("RespondToNewPasswordChallenge error: %v", err)
	}
	if result.Token == nil {
		t.Fatalf("expected token result")
	}

	saved := repo.creds[1]
	if saved.PasswordTemporary {
		t.Fatalf("temporary flag not cleared")
	}
	if saved.PasswordExpiresAt.Valid {
		t.Fatalf("password expiry not cleared")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(saved.HashedPassword.String), []byte("brand-new-pass")); err != nil {
		t.Fatalf("stored hash does not match new password: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("tx expectations: %v", err)
	}
}

func TestLocalNewPasswordChallenge_BadSession(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "temp-pass"))
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	_, err := p.RespondToNewPasswordChallenge(context.Background(), "alice", "forged-session", "new-pass")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("want ErrNotAuthorized, got %v", err)
	}
}

func TestLocalProvider_UnsupportedOperations(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "pa$$word"))
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	if _, err := p.RespondToEmailOTPChallenge(context.Background(), "alice", "s", "123456"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("want ErrNotImplemented, got %v", err)
	}
	if _, err := p.RefreshToken(context.Background(), "at", "rt"); !errors.Is(err, ErrRefreshUnsupported) {
		t.Fatalf("want ErrRefreshUnsupported, got %v", err)
	}
	if ok := p.DiscardToken(context.Background(), "at", "rt"); !ok {
		t.Fatalf("DiscardToken should report true")
	}
}

func TestLocalGetTokenInfo(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "pa$$word"))
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	result, err := p.SignIn(context.Background(), "alice", "pa$$word", "")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}

	info, err := p.GetTokenInfo(context.Background(), result.Token.AccessToken, result.Token.ExpiresIn, result.Token.IssuedAt)
	if err != nil {
		t.Fatalf("GetTokenInfo error: %v", err)
	}
	if info.Username != "alice" {
		t.Fatalf("username: got %q want alice", info.Username)
	}

	if _, err := p.GetTokenInfo(context.Background(), "garbage", 0, 0); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("want ErrInvalidAccessToken, got %v", err)
	}
}

func TestLocalChangePassword(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "old-pass"))
	p, mock := newLocalProviderWithMock(t, repo, &fakeMailer{})

	tok, err := p.codec.Issue("alice")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()

	if err := p.ChangePassword(context.Background(), tok.AccessToken, "old-pass", "new-pass"); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}

	saved := repo.creds[1]
	if err := bcrypt.CompareHashAndPassword([]byte(saved.HashedPassword.String), []byte("new-pass")); err != nil {
		t.Fatalf("stored hash does not match new password: %v", err)
	}
}

func TestLocalChangePassword_WrongOldPassword(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "old-pass"))
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	tok, err := p.codec.Issue("alice")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	err = p.ChangePassword(context.Background(), tok.AccessToken, "not-the-old-pass", "new-pass")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("want ErrNotAuthorized, got %v", err)
	}
	if repo.saves != 0 {
		t.Fatalf("no save expected, got %d", repo.saves)
	}
}
