// Package services implements the tip bot's business logic: the account
// directory, balance reconciliation, the tip validation/distribution
// pipeline, withdrawals, and the command dispatcher. Services are plain
// structs with injected dependencies; persistence goes through narrow repo
// interfaces (satisfied by shims over the repo package) and the ledger is
// reached through node.Ledger, so every collaborator can be faked in tests.
package services

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/domain"
)

// UserRepo is the persistence contract for the platform-user → ledger-account
// mapping. The account directory is the only component that writes it.
type UserRepo interface {
	GetUser(ctx context.Context, db *gorm.DB, userID int64) (*domain.User, error)
	CreateUser(ctx context.Context, db *gorm.DB, userID int64, userName, account string, registered bool) (*domain.User, error)
	SetRegistered(ctx context.Context, db *gorm.DB, userID int64) error
}

// MemberRepo resolves display-name mentions within a chat and keeps the
// membership table current.
type MemberRepo interface {
	GetMemberByName(ctx context.Context, db *gorm.DB, chatID int64, memberName string) (*domain.ChatMember, error)
	UpsertMember(ctx context.Context, db *gorm.DB, chatID int64, chatName string, memberID int64, memberName string) error
	RemoveMember(ctx context.Context, db *gorm.DB, chatID, memberID int64) error
}

// TipRepo persists the append-only transfer records.
type TipRepo interface {
	CreateTip(ctx context.Context, db *gorm.DB, tip *domain.Tip) (*domain.Tip, error)
}

// Notifier delivers outbound notices through the chat platform. Delivery is
// best-effort everywhere: a notice that cannot be sent is logged, never
// allowed to unwind a completed transfer.
type Notifier interface {
	SendDM(ctx context.Context, userID int64, text string) error
	SendChat(ctx context.Context, chatID int64, text string) error
}

// dm sends a direct message and swallows delivery failures with a log line.
func dm(ctx context.Context, n Notifier, userID int64, text string) {
	if err := n.SendDM(ctx, userID, text); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("user_id", userID).Msg("dm delivery failed")
	}
}

// chat posts a notice to a group chat, swallowing delivery failures.
func chat(ctx context.Context, n Notifier, chatID int64, text string) {
	if err := n.SendChat(ctx, chatID, text); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("chat notice delivery failed")
	}
}
