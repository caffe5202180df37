package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/platform/auth"
	"github.com/myshop/api/internal/repositories"
)

const (
	userIDPrefix            = "usr_"
	minPasswordLength       = 8
	maxPasswordLength       = 72
	defaultAccessTokenTTL   = 24 * time.Hour
	defaultResetTokenTTL    = 30 * time.Minute
	accountEventRegistered  = "account.registered"
	accountEventVerified    = "account.verified"
	accountEventResetIssued = "account.password_reset.requested"
	accountEventResetDone   = "account.password_reset.completed"
)

var (
	// ErrAccountInvalidInput indicates malformed registration or reset data.
	ErrAccountInvalidInput = newKindError(ErrInvalidArgument, "account: invalid input")
	// ErrAccountInvalidToken indicates an unknown or expired verification or reset token.
	ErrAccountInvalidToken = newKindError(ErrInvalidArgument, "account: invalid or expired token")
	// ErrAccountEmailTaken indicates the email is already registered.
	ErrAccountEmailTaken = newKindError(ErrConflict, "account: email already registered")
	// ErrAccountInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrAccountInvalidCredentials = newKindError(ErrUnauthorized, "account: invalid credentials")
	// ErrAccountNotVerified indicates the email address has not been confirmed yet.
	ErrAccountNotVerified = newKindError(ErrForbidden, "account: email not verified")
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = newKindError(ErrNotFound, "account: not found")
)

// AccountServiceDeps bundles collaborators required to construct an AccountService.
type AccountServiceDeps struct {
	Users          repositories.UserRepository
	Credentials    auth.CredentialService
	Notifier       Notifier
	AccessTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	Clock          func() time.Time
	// IDGenerator returns the unique part of new ids. The service adds the type prefix.
	IDGenerator    func() string
	TokenGenerator func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type accountService struct {
	users       repositories.UserRepository
	credentials auth.CredentialService
	notifier    Notifier
	accessTTL   time.Duration
	resetTTL    time.Duration
	clock       func() time.Time
	newID       func() string
	newToken    func() string
	logger      func(context.Context, string, map[string]any)
}

// NewAccountService constructs an AccountService.
func NewAccountService(deps AccountServiceDeps) (AccountService, error) {
	if deps.Users == nil {
		return nil, errors.New("account service: user repository is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("account service: credential service is required")
	}

	accessTTL := deps.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTokenTTL
	}
	resetTTL := deps.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTokenTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	tokenGen := deps.TokenGenerator
	if tokenGen == nil {
		tokenGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &accountService{
		users:       deps.Users,
		credentials: deps.Credentials,
		notifier:    deps.Notifier,
		accessTTL:   accessTTL,
		resetTTL:    resetTTL,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		newToken: tokenGen,
		logger:   logger,
	}, nil
}

func (s *accountService) Register(ctx context.Context, cmd RegisterCommand) (User, error) {
	email, err := normaliseEmail(cmd.Email)
	if err != nil {
		return User{}, err
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrAccountInvalidInput)
	}
	if err := validatePassword(cmd.Password); err != nil {
		return User{}, err
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return User{}, ErrAccountEmailTaken
	} else if !isRepoNotFound(err) {
		return User{}, mapRepoError(err, ErrAccountNotFound, ErrAccountEmailTaken)
	}

	hash, err := s.credentials.HashPassword(cmd.Password)
	if err != nil {
		return User{}, fmt.Errorf("account: hash password: %w", err)
	}

	token := s.newToken()
	user := User{
		ID:                userIDPrefix + s.newID(),
		Email:             email,
		Name:              name,
		PasswordHash:      hash,
		Role:              domain.RoleUser,
		VerificationToken: &token,
		Address:           trimOptional(cmd.Address),
		Birthday:          trimOptional(cmd.Birthday),
		Phone:             trimOptional(cmd.Phone),
		Sex:               trimOptional(cmd.Sex),
		CreatedAt:         s.clock(),
	}
	if err := s.users.Insert(ctx, user); err != nil {
		return User{}, mapRepoError(err, ErrAccountNotFound, ErrAccountEmailTaken)
	}

	s.logger(ctx, accountEventRegistered, map[string]any{"userID": user.ID})
	s.notify(ctx, "verification", user, func(n Notifier) error {
		return n.SendVerificationEmail(ctx, user)
	})
	return user, nil
}

func (s *accountService) VerifyEmail(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, fmt.Errorf("%w: token is required", ErrAccountInvalidToken)
	}
	user, err := s.users.FindByVerificationToken(ctx, token)
	if err != nil {
		return User{}, mapRepoError(err, ErrAccountInvalidToken, nil)
	}
	user.IsVerified = true
	user.VerificationToken = nil
	if err := s.users.Update(ctx, user); err != nil {
		return User{}, mapRepoError(err, ErrAccountNotFound, nil)
	}
	s.logger(ctx, accountEventVerified, map[string]any{"userID": user.ID})
	return user, nil
}

func (s *accountService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	normalised, err := normaliseEmail(email)
	if err != nil {
		return LoginResult{}, ErrAccountInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, normalised)
	if err != nil {
		if isRepoNotFound(err) {
			return LoginResult{}, ErrAccountInvalidCredentials
		}
		return LoginResult{}, mapRepoError(err, ErrAccountInvalidCredentials, nil)
	}
	if err := s.credentials.VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return LoginResult{}, ErrAccountInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("account: verify password: %w", err)
	}
	if !user.IsVerified {
		return LoginResult{}, ErrAccountNotVerified
	}

	now := s.clock()
	token, err := s.credentials.IssueToken(auth.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}, s.accessTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("account: issue token: %w", err)
	}
	return LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   now.Add(s.accessTTL),
		User:        user,
	}, nil
}

func (s *accountService) ForgotPassword(ctx context.Context, email string) error {
	normalised, err := normaliseEmail(email)
	if err != nil {
		return err
	}
	user, err := s.users.FindByEmail(ctx, normalised)
	if err != nil {
		return mapRepoError(err, ErrAccountNotFound, nil)
	}

	token := s.newToken()
	expires := s.clock().Add(s.resetTTL)
	user.ResetToken = &token
	user.ResetTokenExpiresAt = &expires
	if err := s.users.Update(ctx, user); err != nil {
		return mapRepoError(err, ErrAccountNotFound, nil)
	}

	s.logger(ctx, accountEventResetIssued, map[string]any{"userID": user.ID})
	s.notify(ctx, "password_reset", user, func(n Notifier) error {
		return n.SendPasswordResetEmail(ctx, user)
	})
	return nil
}

func (s *accountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrAccountInvalidToken)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.users.FindByResetToken(ctx, token)
	if err != nil {
		return mapRepoError(err, ErrAccountInvalidToken, nil)
	}
	if user.ResetTokenExpiresAt == nil || !s.clock().Before(*user.ResetTokenExpiresAt) {
		return fmt.Errorf("%w: reset token expired", ErrAccountInvalidToken)
	}

	hash, err := s.credentials.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("account: hash password: %w", err)
	}
	user.PasswordHash = hash
	user.ResetToken = nil
	user.ResetTokenExpiresAt = nil
	if err := s.users.Update(ctx, user); err != nil {
		return mapRepoError(err, ErrAccountNotFound, nil)
	}
	s.logger(ctx, accountEventResetDone, map[string]any{"userID": user.ID})
	return nil
}

func (s *accountService) Me(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrAccountInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, mapRepoError(err, ErrAccountNotFound, nil)
	}
	return user, nil
}

func (s *accountService) ListUsers(ctx context.Context, pager Pagination) (domain.CursorPage[User], error) {
	page, err := s.users.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[User]{}, mapRepoError(err, ErrAccountNotFound, nil)
	}
	return page, nil
}

func (s *accountService) notify(ctx context.Context, kind string, user User, send func(Notifier) error) {
	if s.notifier == nil {
		return
	}
	if err := send(s.notifier); err != nil {
		s.logger(ctx, "account.notification.failed", map[string]any{
			"kind":   kind,
			"userID": user.ID,
			"error":  err.Error(),
		})
	}
}

// IdentityLookup resolves the current role of a token subject from the account store.
type IdentityLookup struct {
	users repositories.UserRepository
}

var _ auth.UserLookup = (*IdentityLookup)(nil)

// NewIdentityLookup constructs an auth.UserLookup backed by the user repository.
func NewIdentityLookup(users repositories.UserRepository) (*IdentityLookup, error) {
	if users == nil {
		return nil, errors.New("identity lookup: user repository is required")
	}
	return &IdentityLookup{users: users}, nil
}

// LookupIdentity returns auth.ErrUnknownSubject when the account no longer exists.
func (l *IdentityLookup) LookupIdentity(ctx context.Context, userID string) (*auth.Identity, error) {
	user, err := l.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, auth.ErrUnknownSubject
		}
		return nil, err
	}
	return &auth.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

func normaliseEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrAccountInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email is not valid", ErrAccountInvalidInput)
	}
	return email, nil
}

// bcrypt ignores input past 72 bytes.
func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrAccountInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrAccountInvalidInput, maxPasswordLength)
	}
	return nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
