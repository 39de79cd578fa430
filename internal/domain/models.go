// Package domain defines the persistence models for custodial user accounts,
// chat membership records, and bot-mediated transfers. These types are mapped
// with GORM and form the core data layer of the tip bot.
package domain

import (
	"time"
)

// User links a chat-platform identity to its custodial ledger account.
// One ledger address per platform user id; the address is assigned on
// first use and never changes. Users are created lazily (first !register,
// !account, or incoming tip) and never deleted.
//
// Registered distinguishes accounts the user explicitly claimed (via
// !register / !account / any balance-revealing command) from accounts
// created implicitly because somebody tipped them.
type User struct {
	UserID     int64     `json:"user_id"    gorm:"primaryKey;autoIncrement:false"`
	UserName   string    `json:"user_name"  gorm:"type:varchar(64)"`
	Account    string    `json:"account"    gorm:"type:varchar(128);not null"`
	Registered bool      `json:"registered" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// ChatMember records that a display name belongs to a member of a given
// group chat. It exists solely so a "@name" mention in a tip command can be
// resolved to a platform user id within that chat. Rows are upserted when a
// member posts or joins and removed when they leave.
//
// The primary key is (chat_id, member_name) because resolution is always
// by name within a chat.
type ChatMember struct {
	ChatID     int64     `json:"chat_id"     gorm:"primaryKey;autoIncrement:false"`
	MemberName string    `json:"member_name" gorm:"primaryKey;type:varchar(128)"`
	ChatName   string    `json:"chat_name"   gorm:"type:varchar(128)"`
	MemberID   int64     `json:"member_id"   gorm:"not null;index"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for ChatMember.
func (ChatMember) TableName() string { return "chat_members" }

// Tip is the append-only record of one bot-mediated transfer. TipID is the
// idempotency key, derived from the triggering event id and the recipient's
// index within the fan-out, so replaying the same platform event can never
// credit a recipient twice. Rows are never mutated after creation; this is
// the bot's own audit trail, distinct from the ledger's transaction log.
type Tip struct {
	TipID      string    `json:"tip_id"      gorm:"primaryKey;type:varchar(64)"`
	EventID    string    `json:"event_id"    gorm:"type:varchar(48);not null;index"`
	SenderID   int64     `json:"sender_id"   gorm:"not null;index"`
	ReceiverID int64     `json:"receiver_id" gorm:"not null"`
	AmountRaw  int64     `json:"amount_raw"  gorm:"not null"`
	Status     string    `json:"status"      gorm:"type:varchar(16);not null"`
	SourceText string    `json:"source_text" gorm:"type:varchar(512)"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Tip.
func (Tip) TableName() string { return "tips" }

// TipStatusSubmitted marks a transfer that was handed to the ledger node.
const TipStatusSubmitted = "submitted"
