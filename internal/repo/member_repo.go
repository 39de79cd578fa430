// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for ChatMember,
// the per-chat display-name → platform-id lookup surface used to resolve
// tip mentions.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nollarcash/tipbot-backend/internal/domain"
)

// GetMemberByName resolves a display name within a chat, or ErrNotFound.
// Name matching is exact; the caller is expected to have normalized case.
func GetMemberByName(ctx context.Context, db *gorm.DB, chatID int64, memberName string) (*domain.ChatMember, error) {
	var m domain.ChatMember
	err := db.WithContext(ctx).
		Where("chat_id = ? AND member_name = ?", chatID, memberName).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMember records (or refreshes) a chat membership row. Called on every
// group message and on join events so that mention resolution stays current.
func UpsertMember(ctx context.Context, db *gorm.DB, chatID int64, chatName string, memberID int64, memberName string) error {
	m := &domain.ChatMember{
		ChatID:     chatID,
		ChatName:   chatName,
		MemberID:   memberID,
		MemberName: memberName,
		UpdatedAt:  time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "member_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"chat_name", "member_id", "updated_at"}),
		}).
		Create(m).Error
}

// RemoveMember deletes all membership rows for a member within a chat.
// Removing an absent member is not an error.
func RemoveMember(ctx context.Context, db *gorm.DB, chatID, memberID int64) error {
	return db.WithContext(ctx).
		Where("chat_id = ? AND member_id = ?", chatID, memberID).
		Delete(&domain.ChatMember{}).Error
}
