package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/local/phenbot/api/models"
	"github.com/local/phenbot/api/services"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Records is the per-user record store: accounts, saved flashcards, chat
// history, uploads and study counters.
type Records struct {
	db *gorm.DB
}

func NewRecords(db *gorm.DB) *Records {
	return &Records{db: db}
}

// Ping checks the database connection.
func (r *Records) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Records) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return services.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *Records) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *Records) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// SaveFlashcards stores cards for the user and counts them as learned concepts.
func (r *Records) SaveFlashcards(ctx context.Context, userID string, cards []models.Flashcard) error {
	if len(cards) == 0 {
		return nil
	}
	now := time.Now()
	for i := range cards {
		cards[i].ID = uuid.New().String()
		cards[i].UserID = userID
		cards[i].CreatedAt = now
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cards).Error; err != nil {
			return fmt.Errorf("failed to save flashcards: %w", err)
		}
		return incrementStats(tx, userID, "concepts_learned", int64(len(cards)))
	})
}

// ListFlashcards returns the user's cards, newest first.
func (r *Records) ListFlashcards(ctx context.Context, userID string, limit int) ([]models.Flashcard, error) {
	cards := []models.Flashcard{}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&cards).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list flashcards: %w", err)
	}
	return cards, nil
}

// RecordChat appends a history entry and bumps questions_asked.
func (r *Records) RecordChat(ctx context.Context, msg *models.ChatMessage) error {
	msg.ID = uuid.New().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to save chat message: %w", err)
		}
		return incrementStats(tx, msg.UserID, "questions_asked", 1)
	})
}

// ChatHistory returns the user's most recent exchanges, newest first.
func (r *Records) ChatHistory(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	history := []models.ChatMessage{}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	return history, nil
}

func (r *Records) RecordUpload(ctx context.Context, file *models.UploadedFile) error {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// GetUpload returns an upload only if userID owns it.
func (r *Records) GetUpload(ctx context.Context, userID, id string) (*models.UploadedFile, error) {
	var file models.UploadedFile
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&file).Error; err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

// Stats returns the user's counters; a user with no activity gets zeros.
func (r *Records) Stats(ctx context.Context, userID string) (*models.StudyStats, error) {
	var stats models.StudyStats
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.StudyStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return &stats, nil
}

func (r *Records) AddStudyTime(ctx context.Context, userID string, minutes int64) error {
	return incrementStats(r.db.WithContext(ctx), userID, "study_time", minutes)
}

// incrementStats upserts the counters row and adds delta to column.
func incrementStats(tx *gorm.DB, userID, column string, delta int64) error {
	row := models.StudyStats{UserID: userID, UpdatedAt: time.Now()}
	switch column {
	case "questions_asked":
		row.QuestionsAsked = delta
	case "concepts_learned":
		row.ConceptsLearned = delta
	case "study_time":
		row.StudyTime = delta
	default:
		return fmt.Errorf("unknown stats column %q", column)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column:       gorm.Expr(column+" + ?", delta),
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return services.ErrNotFound
	}
	return err
}
