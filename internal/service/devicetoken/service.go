package devicetoken

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/internal/repository"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/validator"
)

// Registry is consumed by the REST handlers and by the push fallback.
type Registry interface {
	RegisterToken(ctx context.Context, userID uuid.UUID, req *model.RegisterDeviceTokenRequest) (*model.DeviceToken, error)
	GetActiveTokens(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error)
	Unsubscribe(ctx context.Context, userID, tokenID uuid.UUID) error
	Touch(ctx context.Context, token string) error
	DeactivateToken(ctx context.Context, token string) error
	Stats(ctx context.Context) (*model.DeviceTokenStats, error)
}

type Service struct {
	repo      repository.DeviceTokenRepository
	validator validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(repo repository.DeviceTokenRepository, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator.New(),
		logger:    log.With("device_tokens"),
		now:       time.Now,
	}
}

// RegisterToken makes req.Token the user's only active token on its platform.
func (s *Service) RegisterToken(ctx context.Context, userID uuid.UUID, req *model.RegisterDeviceTokenRequest) (*model.DeviceToken, error) {
	if userID == uuid.Nil {
		return nil, apperrors.NewBadRequest("userId is required", nil)
	}
	req.Token = strings.TrimSpace(req.Token)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	platform, ok := model.ParsePlatform(req.Platform)
	if !ok {
		return nil, apperrors.NewBadRequest("platform must be one of WEB, IOS, ANDROID", nil)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	token := &model.DeviceToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     req.Token,
		Platform:  platform,
		UserAgent: req.UserAgent,
		LastUsed:  now,
		CreatedAt: now,
	}
	if err := s.repo.Register(ctx, token); err != nil {
		return nil, apperrors.NewPersistence("register device token", err)
	}

	s.logger.Info("device token registered", "user_id", userID.String(), "platform", platform)
	return token, nil
}

func (s *Service) GetActiveTokens(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error) {
	tokens, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, apperrors.NewPersistence("list device tokens", err)
	}
	return tokens, nil
}

// Unsubscribe deactivates one of the user's tokens. Rows are kept.
func (s *Service) Unsubscribe(ctx context.Context, userID, tokenID uuid.UUID) error {
	err := s.repo.Deactivate(ctx, userID, tokenID)
	var appErr *apperrors.AppError
	if err != nil && !errors.As(err, &appErr) {
		return apperrors.NewPersistence("deactivate device token", err)
	}
	return err
}

// Touch records a successful push to token.
func (s *Service) Touch(ctx context.Context, token string) error {
	if err := s.repo.Touch(ctx, token, s.now().UTC()); err != nil {
		return apperrors.NewPersistence("touch device token", err)
	}
	return nil
}

// DeactivateToken retires a token the push provider no longer accepts.
func (s *Service) DeactivateToken(ctx context.Context, token string) error {
	if err := s.repo.DeactivateByToken(ctx, token); err != nil {
		return apperrors.NewPersistence("deactivate device token", err)
	}
	s.logger.Info("device token deactivated by push provider")
	return nil
}

func (s *Service) Stats(ctx context.Context) (*model.DeviceTokenStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, apperrors.NewPersistence("collect device token stats", err)
	}
	return stats, nil
}

// Cleanup hard-deletes inactive tokens unused since before now-age.
func (s *Service) Cleanup(ctx context.Context, age time.Duration) (int64, error) {
	n, err := s.repo.DeleteInactiveBefore(ctx, s.now().UTC().Add(-age))
	if err != nil {
		return 0, apperrors.NewPersistence("delete inactive device tokens", err)
	}
	return n, nil
}
