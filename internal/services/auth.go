package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signlearn/apiserver/internal/auth"
	"github.com/signlearn/apiserver/internal/store"
	"github.com/signlearn/apiserver/types"
	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// Notifier receives auth events that need out-of-band delivery.
type Notifier interface {
	UserRegistered(ctx context.Context, user types.User) error
	PasswordResetRequested(ctx context.Context, user types.User, rawToken string, expires time.Time) error
}

// AuthObserver is told the outcome of every auth operation.
type AuthObserver interface {
	ObserveAuth(operation, outcome string)
}

// AuthOptions tunes the password-reset flow.
type AuthOptions struct {
	ResetTokenTTL        time.Duration
	ResetRevokesSessions bool
}

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User         types.User
	AccessToken  string
	RefreshToken string
}

// ResetTicket is the raw reset token handed back by ForgotPassword.
type ResetTicket struct {
	Token     string
	ExpiresAt time.Time
}

// AuthService implements credentials, sessions and the request gate.
type AuthService struct {
	repo     UserRepository
	tokens   *auth.TokenManager
	hasher   *auth.PasswordHasher
	opts     AuthOptions
	notifier Notifier
	observer AuthObserver
	logger   *zap.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	repo UserRepository,
	tokens *auth.TokenManager,
	hasher *auth.PasswordHasher,
	opts AuthOptions,
	notifier Notifier,
	observer AuthObserver,
	logger *zap.Logger,
) *AuthService {
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		repo:     repo,
		tokens:   tokens,
		hasher:   hasher,
		opts:     opts,
		notifier: notifier,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Register creates an account and opens its first session.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (result AuthResult, err error) {
	defer func() { s.observe("register", err) }()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	var v violations
	v.username(in.Username)
	v.email(in.Email)
	v.password("password", in.Password)
	v.confirmation("confirmPassword", in.Password, in.ConfirmPassword)
	v.maxLength("firstName", in.FirstName, maxNameLength)
	v.maxLength("lastName", in.LastName, maxNameLength)
	if err := v.err(); err != nil {
		return AuthResult{}, err
	}

	if err := checkUnique(ctx, s.repo, "", in.Email, in.Username); err != nil {
		return AuthResult{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		ID:               uuid.NewString(),
		Username:         in.Username,
		Email:            in.Email,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		PasswordHash:     hash,
		Role:             types.RoleUser,
		IsActive:         true,
		LearningProgress: types.DefaultLearningProgress(),
		Preferences:      types.DefaultPreferences(),
	})
	if err != nil {
		return AuthResult{}, mapStoreError(err, "create user")
	}

	result, err = s.startSession(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.UserRegistered(ctx, result.User); err != nil {
			s.logger.Warn("publish user registered", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return result, nil
}

// Login checks credentials and opens a new session. Each login adds its
// own refresh token, so several devices can stay signed in at once.
func (s *AuthService) Login(ctx context.Context, email, password string) (result AuthResult, err error) {
	defer func() { s.observe("login", err) }()

	email = normalizeEmail(email)
	var v violations
	v.email(email)
	if password == "" {
		v.add("password", "is required")
	}
	if err := v.err(); err != nil {
		return AuthResult{}, err
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn the same bcrypt time as a real comparison.
			s.hasher.Verify(s.dummyPasswordHash(), password)
			return AuthResult{}, authError(MsgInvalidCredentials)
		}
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return AuthResult{}, authError(MsgAccountDisabled)
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		return AuthResult{}, authError(MsgInvalidCredentials)
	}

	return s.startSession(ctx, user)
}

// Logout drops one refresh token from the caller's session set. It is
// idempotent; an unknown or empty token is not an error.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) (err error) {
	defer func() { s.observe("logout", err) }()

	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	if err := s.repo.RemoveRefreshToken(ctx, userID, refreshToken); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("remove refresh token: %w", err)
	}
	return nil
}

// Refresh exchanges a live refresh token for a new access token. The
// refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (accessToken string, err error) {
	defer func() { s.observe("refresh", err) }()

	if strings.TrimSpace(refreshToken) == "" {
		return "", tokenError(MsgInvalidRefreshToken)
	}
	userID, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return "", tokenError(MsgInvalidRefreshToken)
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", tokenError(MsgInvalidRefreshToken)
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	// Entries past the refresh lifetime count as absent even before the
	// sweeper deletes them.
	if !user.HasRefreshToken(refreshToken, s.now().Add(-s.tokens.RefreshTTL())) {
		return "", tokenError(MsgRefreshTokenRevoked)
	}

	accessToken, err = s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return accessToken, nil
}

// ForgotPassword stores a fresh reset token digest for the account and
// returns the raw token. The raw value is never persisted.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (ticket ResetTicket, err error) {
	defer func() { s.observe("forgot_password", err) }()

	email = normalizeEmail(email)
	var v violations
	v.email(email)
	if err := v.err(); err != nil {
		return ResetTicket{}, err
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return ResetTicket{}, mapStoreError(err, "load user")
	}

	raw, digest, err := auth.NewResetToken()
	if err != nil {
		return ResetTicket{}, err
	}
	expires := s.now().Add(s.opts.ResetTokenTTL)
	if err := s.repo.SetPasswordReset(ctx, user.ID, digest, expires); err != nil {
		return ResetTicket{}, mapStoreError(err, "store reset token")
	}

	if s.notifier != nil {
		if err := s.notifier.PasswordResetRequested(ctx, user.Sanitized(), raw, expires); err != nil {
			s.logger.Warn("publish password reset", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	s.logger.Info("password reset requested", zap.String("user_id", user.ID))
	return ResetTicket{Token: raw, ExpiresAt: expires}, nil
}

// ResetPassword consumes a reset token. Unknown, wrong and expired tokens
// all fail with the same TokenError.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, password, confirm string) (err error) {
	defer func() { s.observe("reset_password", err) }()

	var v violations
	if strings.TrimSpace(rawToken) == "" {
		v.add("token", "is required")
	}
	v.password("password", password)
	if confirm != "" {
		v.confirmation("confirmPassword", password, confirm)
	}
	if err := v.err(); err != nil {
		return err
	}

	digest := auth.HashResetToken(strings.TrimSpace(rawToken))
	user, err := s.repo.GetByResetToken(ctx, digest, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return tokenError(MsgInvalidResetToken)
		}
		return fmt.Errorf("load user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	// Conditional on the digest: a concurrent reset with the same token loses here.
	if err := s.repo.CompletePasswordReset(ctx, user.ID, digest, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return tokenError(MsgInvalidResetToken)
		}
		return fmt.Errorf("complete password reset: %w", err)
	}

	if s.opts.ResetRevokesSessions {
		if err := s.repo.RevokeAllRefreshTokens(ctx, user.ID); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}
	s.logger.Info("password reset completed", zap.String("user_id", user.ID))
	return nil
}

// ChangePassword replaces the password of a signed-in user.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, password, confirm string) (err error) {
	defer func() { s.observe("change_password", err) }()

	var v violations
	if current == "" {
		v.add("currentPassword", "is required")
	}
	v.password("newPassword", password)
	v.confirmation("confirmPassword", password, confirm)
	if err := v.err(); err != nil {
		return err
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return mapStoreError(err, "load user")
	}
	if !s.hasher.Verify(user.PasswordHash, current) {
		return fieldError("currentPassword", "is incorrect")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, hash); err != nil {
		return mapStoreError(err, "update password")
	}
	return nil
}

// Authenticate resolves an Authorization header to an active user with
// its credential fields stripped.
func (s *AuthService) Authenticate(ctx context.Context, header string) (types.User, error) {
	raw, ok := bearerToken(header)
	if !ok {
		return types.User{}, authError(MsgMissingToken)
	}
	userID, err := s.tokens.ParseAccessToken(raw)
	if err != nil {
		return types.User{}, authError(MsgInvalidToken)
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, authError(MsgInvalidToken)
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return types.User{}, authError(MsgAccountDisabled)
	}
	return user.Sanitized(), nil
}

// Authorize checks an authenticated user against a role set.
func Authorize(user *types.User, roles ...types.Role) error {
	if user == nil {
		return authError(MsgUnauthenticated)
	}
	if !slices.Contains(roles, user.Role) {
		return forbiddenError(MsgInsufficientPermissions)
	}
	return nil
}

func (s *AuthService) startSession(ctx context.Context, user types.User) (AuthResult, error) {
	access, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue refresh token: %w", err)
	}

	entry := types.RefreshToken{Token: refresh, CreatedAt: s.now()}
	if err := s.repo.AddRefreshToken(ctx, user.ID, entry); err != nil {
		return AuthResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	return AuthResult{
		User:         user.Sanitized(),
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// checkUnique pre-checks email and username against every user but
// exceptID. The store's unique constraints still guard the race.
func checkUnique(ctx context.Context, repo UserRepository, exceptID, email, username string) error {
	if email != "" {
		existing, err := repo.GetByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != exceptID:
			return duplicateError("email")
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("check email: %w", err)
		}
	}
	if username != "" {
		existing, err := repo.GetByUsername(ctx, username)
		switch {
		case err == nil && existing.ID != exceptID:
			return duplicateError("username")
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("check username: %w", err)
		}
	}
	return nil
}

func (s *AuthService) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.Error("prepare dummy hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *AuthService) observe(operation string, err error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveAuth(operation, Outcome(err))
}

// Outcome labels err for metrics: "success", a domain error kind, or "error".
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind.String()
	}
	return "error"
}

// bearerToken extracts the token from a header of the exact form "Bearer <token>".
func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// mapStoreError turns store sentinels into domain errors and wraps the rest.
func mapStoreError(err error, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFoundError(MsgUserNotFound)
	case errors.Is(err, store.ErrDuplicateEmail):
		return duplicateError("email")
	case errors.Is(err, store.ErrDuplicateUsername):
		return duplicateError("username")
	}
	return fmt.Errorf("%s: %w", op, err)
}
