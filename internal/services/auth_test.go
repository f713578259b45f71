package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signlearn/apiserver/internal/auth"
	"github.com/signlearn/apiserver/internal/store"
	"github.com/signlearn/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type resetNotice struct {
	userID string
	token  string
}

type recordingNotifier struct {
	mu         sync.Mutex
	registered []string
	resets     []resetNotice
}

func (n *recordingNotifier) UserRegistered(ctx context.Context, user types.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered = append(n.registered, user.ID)
	return nil
}

func (n *recordingNotifier) PasswordResetRequested(ctx context.Context, user types.User, rawToken string, expires time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, resetNotice{userID: user.ID, token: rawToken})
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) ObserveAuth(operation, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, operation+":"+outcome)
}

type authFixture struct {
	svc      *AuthService
	repo     *store.MemoryUserRepository
	tokens   *auth.TokenManager
	clock    *testClock
	notifier *recordingNotifier
	observer *recordingObserver
}

func newAuthFixture(t *testing.T, opts AuthOptions) *authFixture {
	t.Helper()

	clock := &testClock{t: time.Now()}
	tokens := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "access-secret",
		AccessTTL:     time.Hour,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    24 * time.Hour,
		Now:           clock.Now,
	})
	repo := store.NewMemoryUserRepository()
	notifier := &recordingNotifier{}
	observer := &recordingObserver{}

	svc := NewAuthService(repo, tokens, auth.NewPasswordHasher(bcrypt.MinCost), opts, notifier, observer, zap.NewNop())
	svc.now = clock.Now

	return &authFixture{svc: svc, repo: repo, tokens: tokens, clock: clock, notifier: notifier, observer: observer}
}

func (f *authFixture) register(t *testing.T, username, email, password string) AuthResult {
	t.Helper()
	result, err := f.svc.Register(context.Background(), RegisterInput{
		Username:        username,
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
	})
	require.NoError(t, err)
	return result
}

func requireDomainError(t *testing.T, err error, kind error, message string) *Error {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	if message != "" {
		assert.Equal(t, message, domainErr.Message)
	}
	return domainErr
}

func TestRegister_Succeeds(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	ctx := context.Background()

	result, err := f.svc.Register(ctx, RegisterInput{
		Username:        "alice",
		Email:           "  Alice@X.com ",
		Password:        "Passw0rd",
		ConfirmPassword: "Passw0rd",
		FirstName:       "Alice",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, "alice@x.com", result.User.Email)
	assert.Equal(t, types.RoleUser, result.User.Role)
	assert.True(t, result.User.IsActive)
	assert.Empty(t, result.User.PasswordHash)
	assert.Empty(t, result.User.RefreshTokens)
	assert.Equal(t, types.DefaultPreferences(), result.User.Preferences)

	stored, err := f.repo.GetByID(ctx, result.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd", stored.PasswordHash)
	require.Len(t, stored.RefreshTokens, 1)
	assert.Equal(t, result.RefreshToken, stored.RefreshTokens[0].Token)

	assert.Equal(t, []string{result.User.ID}, f.notifier.registered)
	assert.Contains(t, f.observer.events, "register:success")
}

func TestRegister_ReportsAllViolations(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username:        "a!",
		Email:           "not-an-email",
		Password:        "short",
		ConfirmPassword: "different",
		FirstName:       string(make([]rune, 51)),
	})
	domainErr := requireDomainError(t, err, ErrValidation, MsgValidationFailed)

	fields := map[string]bool{}
	for _, v := range domainErr.Violations {
		fields[v.Field] = true
	}
	assert.True(t, fields["username"])
	assert.True(t, fields["email"])
	assert.True(t, fields["password"])
	assert.True(t, fields["confirmPassword"])
	assert.True(t, fields["firstName"])
	assert.Contains(t, f.observer.events, "register:validation")
}

func TestRegister_PasswordRules(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})

	tests := []struct {
		name     string
		password string
	}{
		{name: "no upper", password: "passw0rd"},
		{name: "no lower", password: "PASSW0RD"},
		{name: "no digit", password: "Password"},
		{name: "too short", password: "Pa0"},
		{name: "too long", password: "Passw0rd" + string(make([]byte, 70))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), RegisterInput{
				Username:        "alice",
				Email:           "alice@x.com",
				Password:        tt.password,
				ConfirmPassword: tt.password,
			})
			requireDomainError(t, err, ErrValidation, "")
		})
	}
}

func TestRegister_Duplicates(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	f.register(t, "alice", "alice@x.com", "Passw0rd")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice2", Email: "ALICE@x.com", Password: "Passw0rd", ConfirmPassword: "Passw0rd",
	})
	domainErr := requireDomainError(t, err, ErrDuplicate, MsgEmailTaken)
	assert.Equal(t, "email", domainErr.Field)

	_, err = f.svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "other@x.com", Password: "Passw0rd", ConfirmPassword: "Passw0rd",
	})
	domainErr = requireDomainError(t, err, ErrDuplicate, MsgUsernameTaken)
	assert.Equal(t, "username", domainErr.Field)
}

func TestMapStoreError(t *testing.T) {
	err := mapStoreError(store.ErrDuplicateEmail, "create user")
	assert.Equal(t, "email", requireDomainError(t, err, ErrDuplicate, MsgEmailTaken).Field)

	err = mapStoreError(store.ErrDuplicateUsername, "create user")
	assert.Equal(t, "username", requireDomainError(t, err, ErrDuplicate, MsgUsernameTaken).Field)

	requireDomainError(t, mapStoreError(store.ErrNotFound, "load"), ErrNotFound, MsgUserNotFound)

	err = mapStoreError(assert.AnError, "load")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "error", Outcome(err))
}

func TestLogin_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	_, wrongPassword := f.svc.Login(ctx, "alice@x.com", "wrong")
	_, unknownEmail := f.svc.Login(ctx, "nobody@x.com", "whatever")

	a := requireDomainError(t, wrongPassword, ErrAuth, MsgInvalidCredentials)
	b := requireDomainError(t, unknownEmail, ErrAuth, MsgInvalidCredentials)
	assert.Equal(t, a, b)
}

func TestLogin_NormalizesEmail(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	f.register(t, "alice", "alice@x.com", "Passw0rd")

	result, err := f.svc.Login(context.Background(), " Alice@X.COM", "Passw0rd")
	require.NoError(t, err)
	assert.Equal(t, "alice", result.User.Username)
}

func TestLogin_DisabledAccount(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")
	require.NoError(t, f.repo.SetActive(context.Background(), reg.User.ID, false))

	_, err := f.svc.Login(context.Background(), "alice@x.com", "Passw0rd")
	requireDomainError(t, err, ErrAuth, MsgAccountDisabled)
}

func TestLogin_MalformedInput(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})

	_, err := f.svc.Login(context.Background(), "nope", "")
	domainErr := requireDomainError(t, err, ErrValidation, "")
	assert.Len(t, domainErr.Violations, 2)
}

func TestRefresh_TwoLoginsYieldIndependentTokens(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	first, err := f.svc.Login(ctx, "alice@x.com", "Passw0rd")
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, "alice@x.com", "Passw0rd")
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	access, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	subject, err := f.tokens.ParseAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, subject)

	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, first.User.ID, first.RefreshToken))

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	requireDomainError(t, err, ErrToken, MsgRefreshTokenRevoked)
	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestLogout_IsIdempotent(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, reg.User.ID, reg.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, reg.User.ID, reg.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, reg.User.ID, ""))
	require.NoError(t, f.svc.Logout(ctx, "gone", "whatever"))
}

func TestRefresh_RejectsBadTokens(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "")
	requireDomainError(t, err, ErrToken, MsgInvalidRefreshToken)

	_, err = f.svc.Refresh(ctx, "garbage")
	requireDomainError(t, err, ErrToken, MsgInvalidRefreshToken)

	_, err = f.svc.Refresh(ctx, reg.AccessToken)
	requireDomainError(t, err, ErrToken, MsgInvalidRefreshToken)

	require.NoError(t, f.repo.Delete(ctx, reg.User.ID))
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	requireDomainError(t, err, ErrToken, MsgInvalidRefreshToken)
}

func TestRefresh_JWTExpiry(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")

	f.clock.Advance(25 * time.Hour)
	_, err := f.svc.Refresh(context.Background(), reg.RefreshToken)
	requireDomainError(t, err, ErrToken, MsgInvalidRefreshToken)
}

func TestRefresh_StaleEntryCountsAsRevoked(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	// A well-formed, unexpired token whose stored entry is older than the
	// refresh lifetime must not be honoured.
	token, err := f.tokens.IssueRefreshToken(reg.User.ID)
	require.NoError(t, err)
	stale := types.RefreshToken{Token: token, CreatedAt: f.clock.Now().Add(-25 * time.Hour)}
	require.NoError(t, f.repo.AddRefreshToken(ctx, reg.User.ID, stale))

	_, err = f.svc.Refresh(ctx, token)
	requireDomainError(t, err, ErrToken, MsgRefreshTokenRevoked)
}

func TestPasswordReset_Scenario(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	ticket, err := f.svc.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)
	require.Len(t, ticket.Token, 40)
	assert.WithinDuration(t, f.clock.Now().Add(10*time.Minute), ticket.ExpiresAt, time.Second)

	stored, err := f.repo.GetByID(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.HashResetToken(ticket.Token), stored.PasswordResetToken)
	assert.NotEqual(t, ticket.Token, stored.PasswordResetToken)

	require.Len(t, f.notifier.resets, 1)
	assert.Equal(t, ticket.Token, f.notifier.resets[0].token)

	require.NoError(t, f.svc.ResetPassword(ctx, ticket.Token, "NewPass1", ""))

	_, err = f.svc.Login(ctx, "alice@x.com", "Passw0rd")
	requireDomainError(t, err, ErrAuth, MsgInvalidCredentials)
	_, err = f.svc.Login(ctx, "alice@x.com", "NewPass1")
	require.NoError(t, err)

	stored, err = f.repo.GetByID(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpires)
	// Sessions survive a reset unless configured otherwise.
	assert.True(t, stored.HasRefreshToken(reg.RefreshToken, time.Time{}))
}

func TestPasswordReset_SingleUse(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	ticket, err := f.svc.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(ctx, ticket.Token, "NewPass1", "NewPass1"))
	err = f.svc.ResetPassword(ctx, ticket.Token, "OtherPass2", "")
	requireDomainError(t, err, ErrToken, MsgInvalidResetToken)
}

func TestPasswordReset_ConcurrentUseSucceedsOnce(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	ticket, err := f.svc.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.svc.ResetPassword(ctx, ticket.Token, "NewPass1", "")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireDomainError(t, err, ErrToken, MsgInvalidResetToken)
	}
	assert.Equal(t, 1, succeeded)
}

func TestPasswordReset_ExpiresAfterWindow(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	ticket, err := f.svc.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)

	f.clock.Advance(10*time.Minute + time.Second)
	err = f.svc.ResetPassword(ctx, ticket.Token, "NewPass1", "")
	requireDomainError(t, err, ErrToken, MsgInvalidResetToken)

	_, err = f.svc.Login(ctx, "alice@x.com", "Passw0rd")
	require.NoError(t, err)
}

func TestPasswordReset_NewRequestReplacesOldToken(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	first, err := f.svc.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)
	second, err := f.svc.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)

	requireDomainError(t, f.svc.ResetPassword(ctx, first.Token, "NewPass1", ""), ErrToken, MsgInvalidResetToken)
	require.NoError(t, f.svc.ResetPassword(ctx, second.Token, "NewPass1", ""))
}

func TestPasswordReset_Validation(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	ctx := context.Background()

	err := f.svc.ResetPassword(ctx, "", "weak", "")
	domainErr := requireDomainError(t, err, ErrValidation, "")
	assert.Len(t, domainErr.Violations, 3)

	err = f.svc.ResetPassword(ctx, "deadbeef", "NewPass1", "Mismatch1")
	requireDomainError(t, err, ErrValidation, "")

	err = f.svc.ResetPassword(ctx, "deadbeef", "NewPass1", "")
	requireDomainError(t, err, ErrToken, MsgInvalidResetToken)
}

func TestPasswordReset_RevokesSessionsWhenConfigured(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{ResetRevokesSessions: true})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	ticket, err := f.svc.ForgotPassword(ctx, "alice@x.com")
	require.NoError(t, err)
	require.NoError(t, f.svc.ResetPassword(ctx, ticket.Token, "NewPass1", ""))

	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	requireDomainError(t, err, ErrToken, MsgRefreshTokenRevoked)
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})

	_, err := f.svc.ForgotPassword(context.Background(), "nobody@x.com")
	requireDomainError(t, err, ErrNotFound, MsgUserNotFound)
	assert.Empty(t, f.notifier.resets)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	err := f.svc.ChangePassword(ctx, reg.User.ID, "wrong", "NewPass1", "NewPass1")
	domainErr := requireDomainError(t, err, ErrValidation, "")
	require.Len(t, domainErr.Violations, 1)
	assert.Equal(t, "currentPassword", domainErr.Violations[0].Field)

	err = f.svc.ChangePassword(ctx, reg.User.ID, "Passw0rd", "NewPass1", "NewPass2")
	requireDomainError(t, err, ErrValidation, "")

	require.NoError(t, f.svc.ChangePassword(ctx, reg.User.ID, "Passw0rd", "NewPass1", "NewPass1"))
	_, err = f.svc.Login(ctx, "alice@x.com", "NewPass1")
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")
	ctx := context.Background()

	user, err := f.svc.Authenticate(ctx, "Bearer "+reg.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, user.ID)
	assert.Empty(t, user.PasswordHash)
	assert.Empty(t, user.RefreshTokens)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{name: "empty", header: "", message: MsgMissingToken},
		{name: "no scheme", header: reg.AccessToken, message: MsgMissingToken},
		{name: "lowercase scheme", header: "bearer " + reg.AccessToken, message: MsgMissingToken},
		{name: "missing token", header: "Bearer ", message: MsgMissingToken},
		{name: "extra part", header: "Bearer " + reg.AccessToken + " x", message: MsgMissingToken},
		{name: "garbage", header: "Bearer garbage", message: MsgInvalidToken},
		{name: "refresh token", header: "Bearer " + reg.RefreshToken, message: MsgInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Authenticate(ctx, tt.header)
			requireDomainError(t, err, ErrAuth, tt.message)
		})
	}
}

func TestAuthenticate_DisabledAndDeletedUsers(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	alice := f.register(t, "alice", "alice@x.com", "Passw0rd")
	bob := f.register(t, "bob", "bob@x.com", "Passw0rd")
	ctx := context.Background()

	require.NoError(t, f.repo.SetActive(ctx, alice.User.ID, false))
	_, err := f.svc.Authenticate(ctx, "Bearer "+alice.AccessToken)
	requireDomainError(t, err, ErrAuth, MsgAccountDisabled)

	require.NoError(t, f.repo.Delete(ctx, bob.User.ID))
	_, err = f.svc.Authenticate(ctx, "Bearer "+bob.AccessToken)
	requireDomainError(t, err, ErrAuth, MsgInvalidToken)
}

func TestAuthenticate_ExpiredAccessToken(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	reg := f.register(t, "alice", "alice@x.com", "Passw0rd")

	f.clock.Advance(2 * time.Hour)
	_, err := f.svc.Authenticate(context.Background(), "Bearer "+reg.AccessToken)
	requireDomainError(t, err, ErrAuth, MsgInvalidToken)
}

func TestAuthorize(t *testing.T) {
	requireDomainError(t, Authorize(nil, types.RoleAdmin), ErrAuth, MsgUnauthenticated)

	user := &types.User{Role: types.RoleModerator}
	require.NoError(t, Authorize(user, types.RoleAdmin, types.RoleModerator))
	requireDomainError(t, Authorize(user, types.RoleAdmin), ErrForbidden, MsgInsufficientPermissions)
	requireDomainError(t, Authorize(user), ErrForbidden, MsgInsufficientPermissions)
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := tokenError(MsgInvalidResetToken)
	assert.ErrorIs(t, err, ErrToken)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Equal(t, "token", Outcome(err))
	assert.Equal(t, "success", Outcome(nil))

	v := validationError([]FieldError{{Field: "email", Message: "bad"}})
	assert.Equal(t, "validation failed: email: bad", v.Error())
}
