package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"chapterwise/internal/util"
	"chapterwise/pkg/domain"
)

const migrateLockID int64 = 51730211

const sqlitePrefix = "sqlite://"

// GormStore implements Store on Postgres, or on SQLite for local runs and tests.
type GormStore struct {
	db     *gorm.DB
	sqlite bool
	now    func() time.Time
}

var _ Store = (*GormStore)(nil)

// Open picks the driver from the DSN: "sqlite://<path>" selects SQLite,
// anything else is handed to the Postgres driver. Migrations run on open.
func Open(dsn string, logger *slog.Logger) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	gormLog := gormlogger.New(
		slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	s := &GormStore{now: func() time.Time { return time.Now().UTC() }}
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		s.sqlite = true
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s.db = db
	if s.sqlite {
		// SQLite allows one writer; serialize through a single connection.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		err = s.migrate(db)
	} else {
		err = withMigrationLock(db, s.migrate)
	}
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *GormStore) migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ProgressModel{}, &QuestionModel{}, &ChapterModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) GetProgress(ctx context.Context, userID, bookID string) (domain.Progress, bool, error) {
	var m ProgressModel
	err := s.db.WithContext(ctx).Where("user_id = ? AND book_id = ?", userID, bookID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Progress{}, false, nil
	}
	if err != nil {
		return domain.Progress{}, false, err
	}
	return progressFromModel(m), true, nil
}

func (s *GormStore) ListProgress(ctx context.Context, userID string) ([]domain.Progress, error) {
	var models []ProgressModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Progress, 0, len(models))
	for _, m := range models {
		out = append(out, progressFromModel(m))
	}
	return out, nil
}

// UpsertProgress writes the (user, book) row, replacing chapter counts on conflict.
func (s *GormStore) UpsertProgress(ctx context.Context, userID string, p domain.Progress) (domain.Progress, error) {
	now := s.now()
	model := ProgressModel{
		ID:             util.NewID(),
		UserID:         userID,
		BookID:         p.BookID,
		CurrentChapter: p.CurrentChapter,
		TotalChapters:  p.TotalChapters,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_chapter", "total_chapters", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.Progress{}, err
	}
	saved, ok, err := s.GetProgress(ctx, userID, p.BookID)
	if err != nil {
		return domain.Progress{}, err
	}
	if !ok {
		return domain.Progress{}, fmt.Errorf("progress for %s vanished after upsert", p.BookID)
	}
	return saved, nil
}

func (s *GormStore) DeleteProgress(ctx context.Context, userID, bookID string) (bool, error) {
	res := s.db.WithContext(ctx).Where("user_id = ? AND book_id = ?", userID, bookID).Delete(&ProgressModel{})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) CreateQuestion(ctx context.Context, q domain.Question) error {
	model, err := questionToModel(q)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetQuestion(ctx context.Context, id string) (domain.Question, bool, error) {
	var m QuestionModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Question{}, false, nil
	}
	if err != nil {
		return domain.Question{}, false, err
	}
	return questionFromModel(m), true, nil
}

func (s *GormStore) ListQuestions(ctx context.Context, userID, bookID string) ([]domain.Question, error) {
	var models []QuestionModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Question, 0, len(models))
	for _, m := range models {
		out = append(out, questionFromModel(m))
	}
	return out, nil
}

// SetAnswer records the generation outcome. Missing questions yield ErrNotFound.
func (s *GormStore) SetAnswer(ctx context.Context, id string, a Answer) error {
	sources, err := encodeSources(a.Sources)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&QuestionModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":         string(a.Status),
		"answer_text":    a.AnswerText,
		"failure_reason": string(a.FailureReason),
		"error_message":  a.ErrorMessage,
		"sources":        sources,
		"updated_at":     s.now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteQuestion(ctx context.Context, userID, id string) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&QuestionModel{})
	return res.RowsAffected > 0, res.Error
}

// SaveChapter upserts by (book, order).
func (s *GormStore) SaveChapter(ctx context.Context, ch domain.Chapter) (domain.Chapter, error) {
	now := s.now()
	model := ChapterModel{
		ID:        ch.ID,
		BookID:    ch.BookID,
		Position:  ch.Order,
		Name:      ch.Name,
		Content:   ch.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if model.ID == "" {
		model.ID = util.NewID()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_id"}, {Name: "position"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "content", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.Chapter{}, err
	}
	var saved ChapterModel
	if err := s.db.WithContext(ctx).Where("book_id = ? AND position = ?", ch.BookID, ch.Order).First(&saved).Error; err != nil {
		return domain.Chapter{}, err
	}
	return chapterFromModel(saved), nil
}

func (s *GormStore) ChapterCount(ctx context.Context, bookID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ChapterModel{}).Where("book_id = ?", bookID).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *GormStore) ListChapters(ctx context.Context, bookID string, upTo int) ([]domain.Chapter, error) {
	var models []ChapterModel
	err := s.db.WithContext(ctx).
		Where("book_id = ? AND position >= 1 AND position <= ?", bookID, upTo).
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chapter, 0, len(models))
	for _, m := range models {
		out = append(out, chapterFromModel(m))
	}
	return out, nil
}
