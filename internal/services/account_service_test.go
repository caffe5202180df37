package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/platform/auth"
)

type recordingNotifier struct {
	verifications []User
	resets        []User
	err           error
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, user User) error {
	n.verifications = append(n.verifications, user)
	return n.err
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, user User) error {
	n.resets = append(n.resets, user)
	return n.err
}

type accountFixture struct {
	store    *memStore
	creds    *auth.JWTCredentials
	notifier *recordingNotifier
	now      time.Time
	svc      AccountService
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	f := &accountFixture{
		store:    newMemStore(),
		notifier: &recordingNotifier{},
		now:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	creds, err := auth.NewJWTCredentials("test-secret",
		auth.WithBcryptCost(bcrypt.MinCost),
		auth.WithCredentialClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.creds = creds

	ids := sequentialIDs()
	tokens := sequentialIDs()
	svc, err := NewAccountService(AccountServiceDeps{
		Users:          f.store.Users(),
		Credentials:    creds,
		Notifier:       f.notifier,
		AccessTokenTTL: time.Hour,
		ResetTokenTTL:  30 * time.Minute,
		Clock:          func() time.Time { return f.now },
		IDGenerator:    ids,
		TokenGenerator: func() string { return "tok_" + tokens() },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *accountFixture) register(t *testing.T, email string) User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), RegisterCommand{Email: email, Password: "correct-horse", Name: "Kim"})
	require.NoError(t, err)
	return user
}

func TestNewAccountServiceRequiresDeps(t *testing.T) {
	store := newMemStore()
	_, err := NewAccountService(AccountServiceDeps{Users: store.Users()})
	assert.Error(t, err)
	_, err = NewAccountService(AccountServiceDeps{})
	assert.Error(t, err)
}

func TestAccountServiceRegister(t *testing.T) {
	f := newAccountFixture(t)
	phone := "  "

	user, err := f.svc.Register(context.Background(), RegisterCommand{
		Email:    "  Kim@Example.COM ",
		Password: "correct-horse",
		Name:     " Kim ",
		Phone:    &phone,
	})
	require.NoError(t, err)

	assert.Equal(t, "usr_0001", user.ID)
	assert.Equal(t, "kim@example.com", user.Email)
	assert.Equal(t, "Kim", user.Name)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.False(t, user.IsVerified)
	assert.Nil(t, user.Phone)
	require.NotNil(t, user.VerificationToken)
	assert.Equal(t, "tok_0001", *user.VerificationToken)
	assert.NotEqual(t, "correct-horse", user.PasswordHash)
	assert.NoError(t, f.creds.VerifyPassword("correct-horse", user.PasswordHash))

	require.Len(t, f.notifier.verifications, 1)
	assert.Equal(t, user.ID, f.notifier.verifications[0].ID)
}

func TestAccountServiceRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newAccountFixture(t)
	f.register(t, "kim@example.com")

	_, err := f.svc.Register(context.Background(), RegisterCommand{Email: "KIM@example.com", Password: "another-pass", Name: "Kim"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, ErrAccountEmailTaken)
}

func TestAccountServiceRegisterValidation(t *testing.T) {
	f := newAccountFixture(t)
	tests := []struct {
		name string
		cmd  RegisterCommand
	}{
		{name: "missing email", cmd: RegisterCommand{Password: "correct-horse", Name: "Kim"}},
		{name: "invalid email", cmd: RegisterCommand{Email: "not-an-email", Password: "correct-horse", Name: "Kim"}},
		{name: "display name form", cmd: RegisterCommand{Email: "Kim <kim@example.com>", Password: "correct-horse", Name: "Kim"}},
		{name: "short password", cmd: RegisterCommand{Email: "kim@example.com", Password: "short", Name: "Kim"}},
		{name: "long password", cmd: RegisterCommand{Email: "kim@example.com", Password: strings.Repeat("p", 73), Name: "Kim"}},
		{name: "missing name", cmd: RegisterCommand{Email: "kim@example.com", Password: "correct-horse", Name: " "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tc.cmd)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	assert.Empty(t, f.store.users)
}

func TestAccountServiceRegisterSurvivesNotifierFailure(t *testing.T) {
	f := newAccountFixture(t)
	f.notifier.err = errors.New("smtp down")

	user := f.register(t, "kim@example.com")
	assert.NotEmpty(t, user.ID)
}

func TestAccountServiceLoginFlow(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	user := f.register(t, "kim@example.com")

	_, err := f.svc.Login(ctx, "kim@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrForbidden, "unverified accounts cannot log in")

	verified, err := f.svc.VerifyEmail(ctx, *user.VerificationToken)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Nil(t, verified.VerificationToken)

	_, err = f.svc.VerifyEmail(ctx, *user.VerificationToken)
	assert.ErrorIs(t, err, ErrAccountInvalidToken, "verification tokens are single use")

	result, err := f.svc.Login(ctx, " KIM@example.com ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "bearer", result.TokenType)
	assert.True(t, result.ExpiresAt.Equal(f.now.Add(time.Hour)), "expires at %s", result.ExpiresAt)
	claims, err := f.creds.DecodeToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, domain.RoleUser, claims.Role)

	_, err = f.svc.Login(ctx, "kim@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAccountServicePasswordReset(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	user := f.register(t, "kim@example.com")
	_, err := f.svc.VerifyEmail(ctx, *user.VerificationToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, "kim@example.com"))
	require.Len(t, f.notifier.resets, 1)
	reset := f.notifier.resets[0]
	require.NotNil(t, reset.ResetToken)
	require.NotNil(t, reset.ResetTokenExpiresAt)
	assert.True(t, reset.ResetTokenExpiresAt.Equal(f.now.Add(30*time.Minute)))

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, *reset.ResetToken, "short"), ErrInvalidArgument)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "tok_unknown", "brand-new-pass"), ErrAccountInvalidToken)

	require.NoError(t, f.svc.ResetPassword(ctx, *reset.ResetToken, "brand-new-pass"))
	_, err = f.svc.Login(ctx, "kim@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Login(ctx, "kim@example.com", "brand-new-pass")
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, *reset.ResetToken, "another-pass"), ErrAccountInvalidToken)
}

func TestAccountServiceResetTokenExpires(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	f.register(t, "kim@example.com")

	require.NoError(t, f.svc.ForgotPassword(ctx, "kim@example.com"))
	token := *f.notifier.resets[0].ResetToken

	f.now = f.now.Add(31 * time.Minute)
	err := f.svc.ResetPassword(ctx, token, "brand-new-pass")
	assert.ErrorIs(t, err, ErrAccountInvalidToken)

	assert.ErrorIs(t, f.svc.ForgotPassword(ctx, "nobody@example.com"), ErrNotFound)
}

func TestAccountServiceMeAndList(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	user := f.register(t, "kim@example.com")
	f.register(t, "lee@example.com")

	me, err := f.svc.Me(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "kim@example.com", me.Email)

	_, err = f.svc.Me(ctx, "usr_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	page, err := f.svc.ListUsers(ctx, Pagination{PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestIdentityLookup(t *testing.T) {
	f := newAccountFixture(t)
	user := f.register(t, "kim@example.com")

	lookup, err := NewIdentityLookup(f.store.Users())
	require.NoError(t, err)

	identity, err := lookup.LookupIdentity(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, domain.RoleUser, identity.Role)

	_, err = lookup.LookupIdentity(context.Background(), "usr_gone")
	assert.ErrorIs(t, err, auth.ErrUnknownSubject)
}
