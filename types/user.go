package types

import "time"

// Role is the authorization level of a user account.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// User represents an account in the system.
// It contains identity, credentials, account state, and the typed
// learning/preference sub-documents owned by the learning features.
type User struct {
	// ID is the unique identifier of the user (a UUID string).
	ID string `json:"id" bson:"_id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" bson:"username"`

	// Email is the user's email address, always stored lowercased.
	Email string `json:"email" bson:"email"`

	// FirstName and LastName are optional display name parts.
	FirstName string `json:"firstName" bson:"firstName"`
	LastName  string `json:"lastName" bson:"lastName"`

	// Avatar is the object storage key of the user's avatar image.
	Avatar string `json:"avatar,omitempty" bson:"avatar,omitempty"`

	// Bio is a short free-form self description.
	Bio string `json:"bio,omitempty" bson:"bio,omitempty"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" bson:"password"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" bson:"role"`

	// IsActive is false for accounts disabled by an administrator.
	IsActive bool `json:"isActive" bson:"isActive"`

	// IsEmailVerified reports whether the email address was confirmed.
	IsEmailVerified bool `json:"isEmailVerified" bson:"isEmailVerified"`

	// RefreshTokens is the revocation list: a refresh token is only
	// honoured while its literal value is present here.
	RefreshTokens []RefreshToken `json:"-" bson:"refreshTokens"`

	// PasswordResetToken is the sha256 hex digest of the outstanding
	// reset token. The raw token is never stored.
	PasswordResetToken string `json:"-" bson:"passwordResetToken,omitempty"`

	// PasswordResetExpires is the instant after which the reset token
	// is no longer accepted.
	PasswordResetExpires *time.Time `json:"-" bson:"passwordResetExpires,omitempty"`

	LearningProgress LearningProgress `json:"learningProgress" bson:"learningProgress"`
	Preferences      Preferences      `json:"preferences" bson:"preferences"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// FullName returns "First Last", falling back to the username.
func (u User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}

// Sanitized returns a copy of u with every credential field cleared.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.RefreshTokens = nil
	u.PasswordResetToken = ""
	u.PasswordResetExpires = nil
	return u
}

// HasRefreshToken reports whether token is present in the revocation list
// and was issued after notBefore.
func (u User) HasRefreshToken(token string, notBefore time.Time) bool {
	for _, entry := range u.RefreshTokens {
		if entry.Token == token && entry.CreatedAt.After(notBefore) {
			return true
		}
	}
	return false
}

// RefreshToken is a single entry of a user's refresh-token set.
type RefreshToken struct {
	Token     string    `json:"token" bson:"token"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Level is the learner's current proficiency bracket.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// LearningProgress aggregates lesson activity for a user.
type LearningProgress struct {
	TotalLessonsCompleted int        `json:"totalLessonsCompleted" bson:"totalLessonsCompleted"`
	TotalTimeSpent        int        `json:"totalTimeSpent" bson:"totalTimeSpent"` // minutes
	CurrentLevel          Level      `json:"currentLevel" bson:"currentLevel"`
	Streak                int        `json:"streak" bson:"streak"`
	LastActiveDate        *time.Time `json:"lastActiveDate,omitempty" bson:"lastActiveDate,omitempty"`
}

// Theme is the UI colour scheme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark || t == ThemeAuto
}

// NotificationPreferences selects the channels a user wants to hear on.
type NotificationPreferences struct {
	Email bool `json:"email" bson:"email"`
	Push  bool `json:"push" bson:"push"`
}

// Preferences holds per-user UI and notification settings.
type Preferences struct {
	Language      string                  `json:"language" bson:"language"`
	Notifications NotificationPreferences `json:"notifications" bson:"notifications"`
	Theme         Theme                   `json:"theme" bson:"theme"`
}

// DefaultPreferences returns the preferences assigned to new accounts.
func DefaultPreferences() Preferences {
	return Preferences{
		Language:      "zh-CN",
		Notifications: NotificationPreferences{Email: true, Push: true},
		Theme:         ThemeLight,
	}
}

// DefaultLearningProgress returns the progress assigned to new accounts.
func DefaultLearningProgress() LearningProgress {
	return LearningProgress{CurrentLevel: LevelBeginner}
}
