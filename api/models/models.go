package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a registered student account
type User struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Flashcard is a card the user chose to keep
type Flashcard struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"index;not null" json:"-"`
	Title      string    `json:"title"`
	Question   string    `gorm:"not null" json:"question"`
	Answer     string    `gorm:"not null" json:"answer"`
	Subject    string    `json:"subject"`
	Difficulty string    `json:"difficulty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// ChatMessage is one question/answer exchange in a user's history
type ChatMessage struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index;not null" json:"-"`
	Subject   string    `json:"subject"`
	Mode      string    `json:"mode"`
	Length    string    `json:"length"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// UploadedFile records a PDF stored by the upload sink
type UploadedFile struct {
	ID           string    `gorm:"primaryKey" json:"id"` // 32-hex upload id
	UserID       string    `gorm:"index;not null" json:"-"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	Path         string    `json:"-"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// StudyStats holds the per-user counters
type StudyStats struct {
	UserID          string    `gorm:"primaryKey" json:"-"`
	QuestionsAsked  int64     `json:"questions_asked"`
	ConceptsLearned int64     `json:"concepts_learned"`
	StudyTime       int64     `json:"study_time"` // minutes
	UpdatedAt       time.Time `json:"updated_at"`
}

// Session backs a login token when Redis is not configured
type Session struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

// AutoMigrate runs all migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Flashcard{},
		&ChatMessage{},
		&UploadedFile{},
		&StudyStats{},
		&Session{},
	)
}
