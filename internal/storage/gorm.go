package storage

import (
	"context"
	"errors"
	"time"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
}

// GormStore is a Store backed by any gorm dialect
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection. Call Migrate once before use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the OAuth2 tables
func (s *GormStore) Migrate() error {
	log.Info("Migrating OAuth2 schema")
	return s.db.AutoMigrate(&models.Application{}, &models.Grant{}, &models.Token{})
}

func (s *GormStore) CreateApplication(ctx context.Context, app *models.Application) error {
	return s.db.WithContext(ctx).Create(app).Error
}

func (s *GormStore) FindByClientID(ctx context.Context, clientID string) (*models.Application, error) {
	var app models.Application
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&app).Error; err != nil {
		return nil, translate(err)
	}
	return &app, nil
}

func (s *GormStore) CreateGrant(ctx context.Context, grant *models.Grant) error {
	return s.db.WithContext(ctx).Create(grant).Error
}

// ConsumeIfUnused flips the consumed flag with a conditional UPDATE; only the
// caller whose update affected a row owns the grant.
func (s *GormStore) ConsumeIfUnused(ctx context.Context, code string) (*models.Grant, error) {
	var grant models.Grant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&models.Grant{}).
			Where("code = ? AND consumed = ?", code, false).
			Updates(map[string]interface{}{"consumed": true, "consumed_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("code = ?", code).First(&grant).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &grant, nil
}

func (s *GormStore) CreateToken(ctx context.Context, token *models.Token) error {
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *GormStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Token, error) {
	var token models.Token
	err := s.db.WithContext(ctx).
		Where("refresh_token = ? AND superseded = ?", refreshToken, false).
		First(&token).Error
	if err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

// Rotate supersedes the old token with a conditional UPDATE and inserts next
// in the same transaction, so a failed insert leaves the old token live.
func (s *GormStore) Rotate(ctx context.Context, refreshToken string, next *models.Token) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Token{}).
			Where("refresh_token = ? AND superseded = ?", refreshToken, false).
			Updates(map[string]interface{}{"superseded": true, "superseded_at": time.Now()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(next).Error
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
