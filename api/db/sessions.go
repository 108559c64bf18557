package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/local/phenbot/api/models"
	"github.com/local/phenbot/api/services"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Verify interface compliance
var (
	_ services.SessionStore = (*SQLSessions)(nil)
	_ services.SessionStore = (*RedisSessions)(nil)
)

// SQLSessions keeps sessions in the sqlite database.
type SQLSessions struct {
	db *gorm.DB
}

func NewSQLSessions(db *gorm.DB) *SQLSessions {
	return &SQLSessions{db: db}
}

func (s *SQLSessions) Save(ctx context.Context, session *services.Session) error {
	row := models.Session{
		ID:        session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	// Opportunistic cleanup of expired rows.
	s.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&models.Session{})
	return nil
}

func (s *SQLSessions) Get(ctx context.Context, id string) (*services.Session, error) {
	var row models.Session
	err := s.db.WithContext(ctx).Where("id = ? AND expires_at > ?", id, time.Now()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &services.Session{ID: row.ID, UserID: row.UserID, ExpiresAt: row.ExpiresAt}, nil
}

func (s *SQLSessions) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

const sessionPrefix = "phenbot:session:"

// RedisSessions keeps sessions in Redis; expiry is enforced by key TTL.
type RedisSessions struct {
	client *redis.Client
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

func (s *RedisSessions) Save(ctx context.Context, session *services.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		// Session already expired, don't save
		return nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionPrefix+session.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisSessions) Get(ctx context.Context, id string) (*services.Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session services.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessions) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
