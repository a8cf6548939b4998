package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestLocalForgotPassword_Success(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "old-pass"))
	mailer := &fakeMailer{messageID: "msg-123"}
	p, mock := newLocalProviderWithMock(t, repo, mailer)

	mock.ExpectBegin()
	mock.ExpectCommit()

	receipt, err := p.ForgotPassword(context.Background(), "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("ForgotPassword error: %v", err)
	}

	if receipt.Delivery.MessageID != "msg-123" {
		t.Fatalf("message id: got %q", receipt.Delivery.MessageID)
	}
	if receipt.Delivery.Destination != "al***@***.com" {
		t.Fatalf("masked destination: got %q", receipt.Delivery.Destination)
	}
	if receipt.Delivery.DeliveryMedium != "EMAIL" {
		t.Fatalf("delivery medium: got %q", receipt.Delivery.DeliveryMedium)
	}

	saved := repo.creds[1]
	if !saved.PasswordTemporary {
		t.Fatalf("temporary flag not set")
	}
	if !saved.PasswordExpiresAt.Valid {
		t.Fatalf("temporary expiry not set")
	}

	// The mailed password must match the stored hash.
	mailed := mailer.vars["temporary_password"]
	if mailed == "" {
		t.Fatalf("temporary password not sent to the mailer")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(saved.HashedPassword.String), []byte(mailed)); err != nil {
		t.Fatalf("stored hash does not match mailed password: %v", err)
	}
}

func TestLocalForgotPassword_EmailMismatch(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "old-pass"))
	mailer := &fakeMailer{}
	p, _ := newLocalProviderWithMock(t, repo, mailer)

	before := repo.creds[1]

	_, err := p.ForgotPassword(context.Background(), "alice", "other@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if mailer.sends != 0 {
		t.Fatalf("no mail expected, got %d sends", mailer.sends)
	}
	if repo.creds[1] != before {
		t.Fatalf("credential mutated on mismatch")
	}
}

func TestLocalForgotPassword_UnknownUser(t *testing.T) {
	repo := newFakeUsersRepo()
	p, _ := newLocalProviderWithMock(t, repo, &fakeMailer{})

	_, err := p.ForgotPassword(context.Background(), "ghost", "ghost@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLocalForgotPassword_DeliveryFailureRollsBack(t *testing.T) {
	repo := newFakeUsersRepo(localCred(t, "old-pass"))
	mailer := &fakeMailer{err: errors.New("mail bounced")}
	p, mock := newLocalProviderWithMock(t, repo, mailer)

	before := repo.creds[1]

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := p.ForgotPassword(context.Background(), "alice", "alice@example.com")
	if err == nil || !strings.Contains(err.Error(), "mail bounced") {
		t.Fatalf("expected wrapped delivery error, got %v", err)
	}

	after := repo.creds[1]
	if after.HashedPassword != before.HashedPassword {
		t.Fatalf("password hash not restored after failed delivery")
	}
	if after.PasswordTemporary != before.PasswordTemporary || after.PasswordExpiresAt != before.PasswordExpiresAt {
		t.Fatalf("temporary state not restored after failed delivery")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("tx expectations: %v", err)
	}
}

func TestMaskEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"take@test.com", "ta***@***.com"},
		{"ab@x.io", "ab***@***.io"},
		{"a", "***@***.***"},
		{"no-dot@host", "***@***.***"},
		{"", "***@***.***"},
	}

	for _, tt := range tests {
		if got := maskEmail(tt.in); got != tt.want {
			t.Fatalf("maskEmail(%q): got %q want %q", tt.in, got, tt.want)
		}
	}
}
