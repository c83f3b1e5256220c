package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrader/src/database"
	"papertrader/src/model"
)

// JournalRepository handles append-only persistence of fills, exits and
// captured exceptions. Records are never updated or deleted.
type JournalRepository struct {
	db *gorm.DB
}

// NewJournalRepository creates a repository instance backed by the main
// journal database.
func NewJournalRepository() *JournalRepository {
	logger.WithField("component", "JournalRepository").
		Info("Creating new JournalRepository with MainDB")

	return &JournalRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *JournalRepository) WithDB(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// RecordFill inserts a fill record.
func (r *JournalRepository) RecordFill(ctx context.Context, fill *model.Fill) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "JournalRepository",
		"op":       "RecordFill",
		"order_id": fill.OrderID,
		"side":     fill.Side,
		"price":    fill.Price.String(),
	}).Debug("Recording fill")

	if err := r.db.WithContext(ctx).Create(fill).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "JournalRepository",
			"op":       "RecordFill",
			"order_id": fill.OrderID,
		}).WithError(err).Error("Failed to record fill")
		return err
	}
	return nil
}

// RecordExit inserts an exit-event record.
func (r *JournalRepository) RecordExit(ctx context.Context, exit *model.ExitEvent) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "JournalRepository",
		"op":     "RecordExit",
		"reason": exit.Reason,
		"pnl":    exit.PnL.String(),
	}).Debug("Recording exit event")

	if err := r.db.WithContext(ctx).Create(exit).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "JournalRepository",
			"op":   "RecordExit",
		}).WithError(err).Error("Failed to record exit event")
		return err
	}
	return nil
}

// RecordException inserts a captured task exception.
func (r *JournalRepository) RecordException(ctx context.Context, exc *model.Exception) error {
	if err := r.db.WithContext(ctx).Create(exc).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "JournalRepository",
			"op":   "RecordException",
			"task": exc.Task,
		}).WithError(err).Error("Failed to record exception")
		return err
	}
	return nil
}

// RecentExits returns the most recent exit events, newest first.
func (r *JournalRepository) RecentExits(ctx context.Context, symbol string, limit int) ([]model.ExitEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var exits []model.ExitEvent
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&exits).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "JournalRepository",
			"op":     "RecentExits",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch exit events")
		return nil, err
	}
	return exits, nil
}
