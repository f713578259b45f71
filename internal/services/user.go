package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/signlearn/apiserver/types"
	"go.uber.org/zap"
)

const (
	maxLessonMinutes = 24 * 60
	maxLanguageLen   = 16

	intermediateLessons = 15
	advancedLessons     = 50
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateProfile(ctx context.Context, user types.User) (types.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// UpdatePreferences and UpdateLearningProgress apply fn to the stored
	// value as one atomic read-modify-write and return what was written.
	UpdatePreferences(ctx context.Context, id string, fn func(types.Preferences) types.Preferences) (types.Preferences, error)
	UpdateLearningProgress(ctx context.Context, id string, fn func(types.LearningProgress) types.LearningProgress) (types.LearningProgress, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetRole(ctx context.Context, id string, role types.Role) error
	SetAvatar(ctx context.Context, id, key string) error
	Delete(ctx context.Context, id string) error
	AddRefreshToken(ctx context.Context, id string, token types.RefreshToken) error
	RemoveRefreshToken(ctx context.Context, id, token string) error
	RevokeAllRefreshTokens(ctx context.Context, id string) error
	PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error)
	SetPasswordReset(ctx context.Context, id, tokenHash string, expires time.Time) error
	CompletePasswordReset(ctx context.Context, id, tokenHash, passwordHash string) error
}

// ProfileUpdate holds the profile fields a user may change. Nil means
// leave unchanged.
type ProfileUpdate struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Bio       *string `json:"bio"`
}

type NotificationsUpdate struct {
	Email *bool `json:"email"`
	Push  *bool `json:"push"`
}

// PreferencesUpdate is merged onto the stored preferences.
type PreferencesUpdate struct {
	Language      *string              `json:"language"`
	Notifications *NotificationsUpdate `json:"notifications"`
	Theme         *types.Theme         `json:"theme"`
}

// UserStats summarises a user's activity.
type UserStats struct {
	LearningProgress types.LearningProgress `json:"learningProgress"`
	MemberSince      time.Time              `json:"memberSince"`
	AccountAgeDays   int                    `json:"accountAgeDays"`
	ActiveSessions   int                    `json:"activeSessions"`
}

// UserPage is one page of the admin user listing.
type UserPage struct {
	Users []types.User `json:"users"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo       UserRepository
	sessionTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewUserService builds a UserService. sessionTTL is the refresh token
// lifetime, used to count live sessions.
func NewUserService(repo UserRepository, sessionTTL time.Duration, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, sessionTTL: sessionTTL, logger: logger, now: time.Now}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, mapStoreError(err, "load user")
	}
	return user.Sanitized(), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, mapStoreError(err, "load user")
	}

	var v violations
	var newEmail, newUsername string
	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		v.username(username)
		if username != user.Username {
			newUsername = username
		}
		user.Username = username
	}
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		v.email(email)
		if email != user.Email {
			newEmail = email
		}
		user.Email = email
	}
	if update.FirstName != nil {
		user.FirstName = strings.TrimSpace(*update.FirstName)
		v.maxLength("firstName", user.FirstName, maxNameLength)
	}
	if update.LastName != nil {
		user.LastName = strings.TrimSpace(*update.LastName)
		v.maxLength("lastName", user.LastName, maxNameLength)
	}
	if update.Bio != nil {
		user.Bio = strings.TrimSpace(*update.Bio)
		v.maxLength("bio", user.Bio, maxBioLength)
	}
	if err := v.err(); err != nil {
		return types.User{}, err
	}

	if err := checkUnique(ctx, s.repo, user.ID, newEmail, newUsername); err != nil {
		return types.User{}, err
	}

	updated, err := s.repo.UpdateProfile(ctx, user)
	if err != nil {
		return types.User{}, mapStoreError(err, "update profile")
	}
	return updated.Sanitized(), nil
}

func (s *UserService) UpdatePreferences(ctx context.Context, id string, update PreferencesUpdate) (types.Preferences, error) {
	var v violations
	var language string
	if update.Language != nil {
		language = strings.TrimSpace(*update.Language)
		if language == "" {
			v.add("language", "must not be empty")
		}
		v.maxLength("language", language, maxLanguageLen)
	}
	if update.Theme != nil && !update.Theme.Valid() {
		v.add("theme", "must be one of light, dark, auto")
	}
	if err := v.err(); err != nil {
		return types.Preferences{}, err
	}

	prefs, err := s.repo.UpdatePreferences(ctx, id, func(prefs types.Preferences) types.Preferences {
		if update.Language != nil {
			prefs.Language = language
		}
		if update.Notifications != nil {
			if update.Notifications.Email != nil {
				prefs.Notifications.Email = *update.Notifications.Email
			}
			if update.Notifications.Push != nil {
				prefs.Notifications.Push = *update.Notifications.Push
			}
		}
		if update.Theme != nil {
			prefs.Theme = *update.Theme
		}
		return prefs
	})
	if err != nil {
		return types.Preferences{}, mapStoreError(err, "update preferences")
	}
	return prefs, nil
}

func (s *UserService) GetProgress(ctx context.Context, id string) (types.LearningProgress, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.LearningProgress{}, mapStoreError(err, "load user")
	}
	return user.LearningProgress, nil
}

// RecordLesson counts a completed lesson of the given length in minutes
// and advances the daily streak.
func (s *UserService) RecordLesson(ctx context.Context, id string, minutes int) (types.LearningProgress, error) {
	if minutes < 0 || minutes > maxLessonMinutes {
		return types.LearningProgress{}, fieldError("timeSpent", fmt.Sprintf("must be between 0 and %d", maxLessonMinutes))
	}

	now := s.now()
	progress, err := s.repo.UpdateLearningProgress(ctx, id, func(p types.LearningProgress) types.LearningProgress {
		return advanceProgress(p, minutes, now)
	})
	if err != nil {
		return types.LearningProgress{}, mapStoreError(err, "update progress")
	}
	return progress, nil
}

func advanceProgress(p types.LearningProgress, minutes int, now time.Time) types.LearningProgress {
	p.TotalLessonsCompleted++
	p.TotalTimeSpent += minutes

	today := truncateDay(now)
	switch {
	case p.LastActiveDate == nil:
		p.Streak = 1
	case truncateDay(*p.LastActiveDate).Equal(today):
		if p.Streak == 0 {
			p.Streak = 1
		}
	case truncateDay(*p.LastActiveDate).Equal(today.AddDate(0, 0, -1)):
		p.Streak++
	default:
		p.Streak = 1
	}
	p.LastActiveDate = &now

	switch {
	case p.TotalLessonsCompleted >= advancedLessons:
		p.CurrentLevel = types.LevelAdvanced
	case p.TotalLessonsCompleted >= intermediateLessons:
		p.CurrentLevel = types.LevelIntermediate
	case p.CurrentLevel == "":
		p.CurrentLevel = types.LevelBeginner
	}
	return p
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *UserService) Stats(ctx context.Context, id string) (UserStats, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return UserStats{}, mapStoreError(err, "load user")
	}

	now := s.now()
	cutoff := now.Add(-s.sessionTTL)
	sessions := 0
	for _, t := range user.RefreshTokens {
		if t.CreatedAt.After(cutoff) {
			sessions++
		}
	}
	return UserStats{
		LearningProgress: user.LearningProgress,
		MemberSince:      user.CreatedAt,
		AccountAgeDays:   int(now.Sub(user.CreatedAt).Hours() / 24),
		ActiveSessions:   sessions,
	}, nil
}

func (s *UserService) DeleteAccount(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapStoreError(err, "delete user")
	}
	s.logger.Info("account deleted", zap.String("user_id", id))
	return nil
}

// List returns a 1-based page of users with secrets stripped.
func (s *UserService) List(ctx context.Context, page, limit int) (UserPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	users, total, err := s.repo.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		users[i] = users[i].Sanitized()
	}
	return UserPage{Users: users, Total: total, Page: page, Limit: limit}, nil
}

// SetActive enables or disables an account. Disabling also revokes every
// refresh token so existing sessions cannot be renewed.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return mapStoreError(err, "set active")
	}
	if !active {
		if err := s.repo.RevokeAllRefreshTokens(ctx, id); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}
	s.logger.Info("account status changed", zap.String("user_id", id), zap.Bool("active", active))
	return nil
}

func (s *UserService) SetRole(ctx context.Context, id string, role types.Role) error {
	if !role.Valid() {
		return fieldError("role", "must be one of user, moderator, admin")
	}
	if err := s.repo.SetRole(ctx, id, role); err != nil {
		return mapStoreError(err, "set role")
	}
	s.logger.Info("role changed", zap.String("user_id", id), zap.String("role", string(role)))
	return nil
}
