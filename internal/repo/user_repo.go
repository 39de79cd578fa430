// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model,
// the mapping from platform identity to custodial ledger account.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetUser fetches a user by platform id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, userID int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row with its freshly allocated ledger
// account. The registration flag reflects the caller's intent: explicit
// registration commands set it immediately, implicit creation via an
// incoming tip leaves it false.
func CreateUser(ctx context.Context, db *gorm.DB, userID int64, userName, account string, registered bool) (*domain.User, error) {
	u := &domain.User{
		UserID:     userID,
		UserName:   userName,
		Account:    account,
		Registered: registered,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// SetRegistered flips the registration flag for a user that has an account
// but never explicitly registered. It is a no-op (not an error) when the
// user is already registered or does not exist.
func SetRegistered(ctx context.Context, db *gorm.DB, userID int64) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("user_id = ? AND registered = ?", userID, false).
		Update("registered", true).Error
}
