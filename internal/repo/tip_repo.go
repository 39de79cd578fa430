// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Tip model,
// the append-only record of bot-mediated transfers keyed by the tip
// idempotency identifier.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/domain"
)

// ErrDuplicate indicates that a tip record already exists for the given
// tip identifier, i.e. the triggering event was already processed.
var ErrDuplicate = errors.New("duplicate")

// CreateTip inserts a transfer record and returns ErrDuplicate when the
// tip identifier was already persisted (event replay).
func CreateTip(ctx context.Context, db *gorm.DB, tip *domain.Tip) (*domain.Tip, error) {
	if tip.CreatedAt.IsZero() {
		tip.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(tip).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return tip, nil
}

// CountTipsForEvent returns how many transfer records exist for an event id.
// Used by tests and by operators auditing a suspected replay.
func CountTipsForEvent(ctx context.Context, db *gorm.DB, eventID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Tip{}).
		Where("event_id = ?", eventID).
		Count(&n).Error
	return n, err
}
