package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidUser indicates the user id was empty.
var ErrInvalidUser = errors.New("users: invalid user id")

// ServiceConfig describes the dependencies required for role management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages the role registry consulted when session tokens are minted.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the role registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Lookup returns the account for the user id. Unknown users resolve to a plain user account.
func (s *Service) Lookup(ctx context.Context, userID string) (Account, error) {
	id := normalize(userID)
	if id == "" {
		return Account{}, ErrInvalidUser
	}
	if cached, ok := s.cache.Load(id); ok {
		if account, ok := cached.(Account); ok {
			return account, nil
		}
	}

	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{UserID: id, Role: RoleUser}, nil
	}
	if err != nil {
		return Account{}, err
	}
	s.cache.Store(id, account)
	return account, nil
}

// Roles returns the session roles for the user id.
func (s *Service) Roles(ctx context.Context, userID string) ([]string, error) {
	account, err := s.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	return account.Roles(), nil
}

// GrantAdmin records the admin role for the user id, creating the account when needed.
// Tokens minted before the grant keep their old roles until they expire.
func (s *Service) GrantAdmin(ctx context.Context, userID, email string) (Account, error) {
	id := normalize(userID)
	if id == "" {
		return Account{}, ErrInvalidUser
	}
	now := s.now().UTC()
	account := Account{
		UserID:    id,
		Email:     normalize(email),
		Role:      RoleAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	updates := []string{"role", "updated_at"}
	if account.Email != "" {
		updates = append(updates, "user_email")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&account).Error
	if err != nil {
		s.logger.Error("users service error",
			zap.String("operation", "users.grant_admin"),
			zap.String("user_id", id),
			zap.Error(err))
		return Account{}, err
	}
	s.cache.Delete(id)

	stored, err := s.Lookup(ctx, id)
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("admin role granted", zap.String("user_id", id))
	return stored, nil
}
