package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/signlearn/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection = "users"

	mongoEmailIndex    = "users_email_unique"
	mongoUsernameIndex = "users_username_unique"

	maxUpdateAttempts = 5
)

// MongoUserRepository stores each user as one document. The refresh-token
// list is an embedded array changed only through $push and $pull.
type MongoUserRepository struct {
	coll *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{coll: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique and lookup indexes the repository relies on.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(mongoEmailIndex),
		},
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(mongoUsernameIndex),
		},
		{
			Keys:    bson.D{{Key: "passwordResetToken", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("users_reset_token"),
		},
		{
			Keys:    bson.D{{Key: "refreshTokens.createdAt", Value: 1}},
			Options: options.Index().SetName("users_refresh_created"),
		},
	})
	return err
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var user types.User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *MongoUserRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (types.User, error) {
	if tokenHash == "" {
		return types.User{}, ErrNotFound
	}
	return r.findOne(ctx, bson.M{
		"passwordResetToken":   tokenHash,
		"passwordResetExpires": bson.M{"$gt": now},
	})
}

func (r *MongoUserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	total, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"refreshTokens": 0})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	users := make([]types.User, 0, limit)
	if err := cur.All(ctx, &users); err != nil {
		return nil, 0, err
	}
	return users, int(total), nil
}

func (r *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	// $push fails on a null field, so the array must exist from the start.
	if user.RefreshTokens == nil {
		user.RefreshTokens = []types.RefreshToken{}
	}
	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		return types.User{}, mapMongoError(err)
	}
	return user, nil
}

func (r *MongoUserRepository) UpdateProfile(ctx context.Context, user types.User) (types.User, error) {
	err := r.update(ctx, user.ID, bson.M{"$set": bson.M{
		"username":  user.Username,
		"email":     user.Email,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"bio":       user.Bio,
	}})
	if err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, user.ID)
}

func (r *MongoUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"password": passwordHash}})
}

func (r *MongoUserRepository) UpdatePreferences(ctx context.Context, id string, fn func(types.Preferences) types.Preferences) (types.Preferences, error) {
	for range maxUpdateAttempts {
		user, err := r.findOne(ctx, bson.M{"_id": id})
		if err != nil {
			return types.Preferences{}, err
		}
		next := fn(user.Preferences)
		swapped, err := r.compareAndSet(ctx, id, "preferences", user.Preferences, next)
		if err != nil {
			return types.Preferences{}, err
		}
		if swapped {
			return next, nil
		}
	}
	return types.Preferences{}, ErrConflict
}

func (r *MongoUserRepository) UpdateLearningProgress(ctx context.Context, id string, fn func(types.LearningProgress) types.LearningProgress) (types.LearningProgress, error) {
	for range maxUpdateAttempts {
		user, err := r.findOne(ctx, bson.M{"_id": id})
		if err != nil {
			return types.LearningProgress{}, err
		}
		next := fn(user.LearningProgress)
		swapped, err := r.compareAndSet(ctx, id, "learningProgress", user.LearningProgress, next)
		if err != nil {
			return types.LearningProgress{}, err
		}
		if swapped {
			return next, nil
		}
	}
	return types.LearningProgress{}, ErrConflict
}

// compareAndSet replaces field with next only while it still equals current.
// Both values are encoded from the same struct, so field order matches.
func (r *MongoUserRepository) compareAndSet(ctx context.Context, id, field string, current, next any) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, field: current},
		bson.M{"$set": bson.M{field: next, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *MongoUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"isActive": active}})
}

func (r *MongoUserRepository) SetRole(ctx context.Context, id string, role types.Role) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"role": role}})
}

func (r *MongoUserRepository) SetAvatar(ctx context.Context, id, key string) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"avatar": key}})
}

func (r *MongoUserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) AddRefreshToken(ctx context.Context, id string, token types.RefreshToken) error {
	return r.update(ctx, id, bson.M{"$push": bson.M{"refreshTokens": token}})
}

func (r *MongoUserRepository) RemoveRefreshToken(ctx context.Context, id, token string) error {
	return r.update(ctx, id, bson.M{"$pull": bson.M{"refreshTokens": bson.M{"token": token}}})
}

func (r *MongoUserRepository) RevokeAllRefreshTokens(ctx context.Context, id string) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"refreshTokens": bson.A{}}})
}

// PruneRefreshTokens reports the number of user documents that lost at
// least one entry; MongoDB does not count pulled array elements.
func (r *MongoUserRepository) PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"refreshTokens.createdAt": bson.M{"$lt": before}},
		bson.M{"$pull": bson.M{"refreshTokens": bson.M{"createdAt": bson.M{"$lt": before}}}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoUserRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expires time.Time) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{
		"passwordResetToken":   tokenHash,
		"passwordResetExpires": expires,
	}})
}

func (r *MongoUserRepository) CompletePasswordReset(ctx context.Context, id, tokenHash, passwordHash string) error {
	if tokenHash == "" {
		return ErrNotFound
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "passwordResetToken": tokenHash},
		bson.M{
			"$set":   bson.M{"password": passwordHash, "updatedAt": time.Now().UTC()},
			"$unset": bson.M{"passwordResetToken": "", "passwordResetExpires": ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// update applies change to one user and stamps updatedAt.
func (r *MongoUserRepository) update(ctx context.Context, id string, change bson.M) error {
	set, _ := change["$set"].(bson.M)
	if set == nil {
		set = bson.M{}
		change["$set"] = set
	}
	set["updatedAt"] = time.Now().UTC()

	res, err := r.coll.UpdateByID(ctx, id, change)
	if err != nil {
		return mapMongoError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func mapMongoError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, mongoEmailIndex):
		return ErrDuplicateEmail
	case strings.Contains(msg, mongoUsernameIndex):
		return ErrDuplicateUsername
	}
	return err
}
