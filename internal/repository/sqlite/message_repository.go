package sqlite

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"contact-service/internal/config"
	"contact-service/internal/model"
	"contact-service/internal/util"
)

// MessageRepository persists contact messages in an embedded sqlite
// database. A single-instance site does not need a clustered store.
type MessageRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMessageRepository(cfg *config.Config, logger *zap.Logger) (*MessageRepository, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}

	if err := db.AutoMigrate(&model.ContactMessage{}); err != nil {
		return nil, fmt.Errorf("failed to migrate contact message schema: %w", err)
	}

	util.Info("Message repository initialized",
		zap.String("path", cfg.Database.Path))

	return &MessageRepository{db: db, logger: logger}, nil
}

func (r *MessageRepository) SaveMessage(ctx context.Context, msg *model.ContactMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.logger.Error("Failed to save contact message",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return fmt.Errorf("failed to save contact message: %w", err)
	}

	r.logger.Debug("Contact message saved",
		zap.String("message_id", msg.ID),
		zap.String("ip_address", msg.IPAddress))
	return nil
}

// GetMessageByID backs the submission receipt lookup.
func (r *MessageRepository) GetMessageByID(ctx context.Context, id string) (*model.ContactMessage, error) {
	var msg model.ContactMessage
	err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get contact message: %w", err)
	}
	return &msg, nil
}

func (r *MessageRepository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		util.Error("failed to close database", zap.Error(err))
		return err
	}
	util.Info("Database closed")
	return nil
}
