package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/signlearn/apiserver/internal/storage"
	"go.uber.org/zap"
)

const (
	avatarSize        = 256
	avatarContentType = "image/png"
	// MaxAvatarUpload bounds the encoded upload the service will read.
	MaxAvatarUpload = 5 << 20
	// maxAvatarDimension bounds each side of the decoded image.
	maxAvatarDimension = 4096
)

// ErrStorageUnavailable is returned when no object storage backend is configured.
var ErrStorageUnavailable = errors.New("object storage is not configured")

// ObjectStore is the subset of object storage used for avatars.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// AvatarService normalises uploaded avatars and keeps them in object storage.
type AvatarService struct {
	repo   UserRepository
	store  ObjectStore
	logger *zap.Logger
}

// NewAvatarService builds an AvatarService. store may be nil, in which case
// every call fails with ErrStorageUnavailable.
func NewAvatarService(repo UserRepository, store ObjectStore, logger *zap.Logger) *AvatarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvatarService{repo: repo, store: store, logger: logger}
}

func avatarKey(userID string) string {
	return "avatars/" + userID + ".png"
}

// Upload decodes r, crops it to a centred square and stores it as PNG.
func (s *AvatarService) Upload(ctx context.Context, userID string, r io.Reader) (string, error) {
	if s.store == nil {
		return "", ErrStorageUnavailable
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxAvatarUpload+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if len(data) > MaxAvatarUpload {
		return "", fieldError("avatar", "must be at most 5 MB")
	}

	// The header alone sizes the pixel buffer, so check it before decoding.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fieldError("avatar", "must be a PNG, JPEG or GIF image")
	}
	if cfg.Width > maxAvatarDimension || cfg.Height > maxAvatarDimension {
		return "", fieldError("avatar", fmt.Sprintf("must be at most %dx%d pixels", maxAvatarDimension, maxAvatarDimension))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fieldError("avatar", "must be a PNG, JPEG or GIF image")
	}
	square := imaging.Fill(img, avatarSize, avatarSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, square, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode avatar: %w", err)
	}

	key := avatarKey(userID)
	if err := s.store.Put(ctx, key, &buf, int64(buf.Len()), avatarContentType); err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}
	if err := s.repo.SetAvatar(ctx, userID, key); err != nil {
		return "", mapStoreError(err, "set avatar")
	}
	s.logger.Info("avatar updated", zap.String("user_id", userID), zap.String("key", key))
	return key, nil
}

// Open returns the stored avatar and its content type.
func (s *AvatarService) Open(ctx context.Context, userID string) (io.ReadCloser, string, error) {
	if s.store == nil {
		return nil, "", ErrStorageUnavailable
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, "", mapStoreError(err, "load user")
	}
	if user.Avatar == "" {
		return nil, "", notFoundError("avatar not set")
	}
	rc, err := s.store.Get(ctx, user.Avatar)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, "", notFoundError("avatar not set")
	}
	if err != nil {
		return nil, "", fmt.Errorf("open avatar: %w", err)
	}
	return rc, avatarContentType, nil
}

// Remove deletes the stored avatar, if any. Used on account deletion.
func (s *AvatarService) Remove(ctx context.Context, userID string) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, avatarKey(userID)); err != nil {
		return fmt.Errorf("delete avatar: %w", err)
	}
	return nil
}
