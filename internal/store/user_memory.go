package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/signlearn/apiserver/types"
)

// MemoryUserRepository keeps users in process memory. It backs DB_DRIVER=memory
// and the unit tests; every method holds the lock for its whole
// read-modify-write so the atomicity contract matches the real backends.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]types.User)}
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Email == email })
}

func (r *MemoryUserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Username == username })
}

func (r *MemoryUserRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (types.User, error) {
	if tokenHash == "" {
		return types.User{}, ErrNotFound
	}
	return r.find(func(u types.User) bool {
		return u.PasswordResetToken == tokenHash &&
			u.PasswordResetExpires != nil &&
			u.PasswordResetExpires.After(now)
	})
}

func (r *MemoryUserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]types.User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, cloneUser(u))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []types.User{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkUnique(user); err != nil {
		return types.User{}, err
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(user)
	return user, nil
}

func (r *MemoryUserRepository) UpdateProfile(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[user.ID]
	if !ok {
		return types.User{}, ErrNotFound
	}
	if err := r.checkUnique(user); err != nil {
		return types.User{}, err
	}
	current.Username = user.Username
	current.Email = user.Email
	current.FirstName = user.FirstName
	current.LastName = user.LastName
	current.Bio = user.Bio
	current.UpdatedAt = time.Now()
	r.users[user.ID] = current
	return cloneUser(current), nil
}

func (r *MemoryUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.mutate(id, func(u *types.User) { u.PasswordHash = passwordHash })
}

func (r *MemoryUserRepository) UpdatePreferences(ctx context.Context, id string, fn func(types.Preferences) types.Preferences) (types.Preferences, error) {
	var prefs types.Preferences
	err := r.mutate(id, func(u *types.User) {
		u.Preferences = fn(u.Preferences)
		prefs = u.Preferences
	})
	return prefs, err
}

func (r *MemoryUserRepository) UpdateLearningProgress(ctx context.Context, id string, fn func(types.LearningProgress) types.LearningProgress) (types.LearningProgress, error) {
	var progress types.LearningProgress
	err := r.mutate(id, func(u *types.User) {
		u.LearningProgress = fn(u.LearningProgress)
		progress = u.LearningProgress
	})
	return progress, err
}

func (r *MemoryUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.mutate(id, func(u *types.User) { u.IsActive = active })
}

func (r *MemoryUserRepository) SetRole(ctx context.Context, id string, role types.Role) error {
	return r.mutate(id, func(u *types.User) { u.Role = role })
}

func (r *MemoryUserRepository) SetAvatar(ctx context.Context, id, key string) error {
	return r.mutate(id, func(u *types.User) { u.Avatar = key })
}

func (r *MemoryUserRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *MemoryUserRepository) AddRefreshToken(ctx context.Context, id string, token types.RefreshToken) error {
	return r.mutate(id, func(u *types.User) {
		u.RefreshTokens = append(u.RefreshTokens, token)
	})
}

func (r *MemoryUserRepository) RemoveRefreshToken(ctx context.Context, id, token string) error {
	return r.mutate(id, func(u *types.User) {
		u.RefreshTokens = slices.DeleteFunc(u.RefreshTokens, func(t types.RefreshToken) bool {
			return t.Token == token
		})
	})
}

func (r *MemoryUserRepository) RevokeAllRefreshTokens(ctx context.Context, id string) error {
	return r.mutate(id, func(u *types.User) { u.RefreshTokens = nil })
}

func (r *MemoryUserRepository) PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, u := range r.users {
		kept := u.RefreshTokens[:0:0]
		for _, t := range u.RefreshTokens {
			if t.CreatedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		u.RefreshTokens = kept
		r.users[id] = u
	}
	return removed, nil
}

func (r *MemoryUserRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expires time.Time) error {
	return r.mutate(id, func(u *types.User) {
		u.PasswordResetToken = tokenHash
		u.PasswordResetExpires = &expires
	})
}

func (r *MemoryUserRepository) CompletePasswordReset(ctx context.Context, id, tokenHash, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || tokenHash == "" || u.PasswordResetToken != tokenHash {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordResetToken = ""
	u.PasswordResetExpires = nil
	u.UpdatedAt = time.Now()
	r.users[id] = u
	return nil
}

func (r *MemoryUserRepository) find(match func(types.User) bool) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) mutate(id string, fn func(u *types.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u = cloneUser(u)
	fn(&u)
	u.UpdatedAt = time.Now()
	r.users[id] = u
	return nil
}

// checkUnique must be called with the write lock held.
func (r *MemoryUserRepository) checkUnique(user types.User) error {
	for id, existing := range r.users {
		if id == user.ID {
			continue
		}
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
		if existing.Username == user.Username {
			return ErrDuplicateUsername
		}
	}
	return nil
}

func cloneUser(u types.User) types.User {
	u.RefreshTokens = slices.Clone(u.RefreshTokens)
	if u.PasswordResetExpires != nil {
		expires := *u.PasswordResetExpires
		u.PasswordResetExpires = &expires
	}
	if u.LearningProgress.LastActiveDate != nil {
		last := *u.LearningProgress.LastActiveDate
		u.LearningProgress.LastActiveDate = &last
	}
	return u
}
