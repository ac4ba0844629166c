package store

import (
	"time"

	"gorm.io/datatypes"
)

type ProgressModel struct {
	ID             string    `gorm:"primaryKey"`
	UserID         string    `gorm:"not null;uniqueIndex:idx_progress_user_book,priority:1"`
	BookID         string    `gorm:"not null;uniqueIndex:idx_progress_user_book,priority:2"`
	CurrentChapter int       `gorm:"not null"`
	TotalChapters  int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type QuestionModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index:idx_question_user_book,priority:1"`
	BookID        string `gorm:"not null;index:idx_question_user_book,priority:2"`
	Text          string `gorm:"type:text;not null"`
	ChapterLimit  int    `gorm:"not null"`
	AnswerText    string `gorm:"type:text"`
	Status        string `gorm:"not null"`
	FailureReason string
	ErrorMessage  string
	Sources       datatypes.JSON
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type ChapterModel struct {
	ID        string    `gorm:"primaryKey"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_chapter_book_position,priority:1"`
	Position  int       `gorm:"not null;uniqueIndex:idx_chapter_book_position,priority:2"`
	Name      string    `gorm:"not null"`
	Content   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
