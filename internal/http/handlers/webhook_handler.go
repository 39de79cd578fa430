// Package handlers provides the HTTP handler for the platform webhook.
//
// The relay POSTs one normalized update per platform event. Handlers are
// transport-thin: they validate the payload, keep the chat-membership table
// current, hand message events to the dispatcher, and return 200
// immediately — business logic always runs in the background, so the
// platform's delivery timeout can never be tripped by ledger latency.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/services"
)

// Member identifies a chat member in a membership event.
type Member struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// WebhookUpdate is the normalized payload the relay delivers for every
// platform event. Exactly one of Text / JoinedMember / LeftMember is
// meaningful per update.
type WebhookUpdate struct {
	EventID    string  `json:"event_id" binding:"required"`
	SenderID   int64   `json:"sender_id"`
	SenderName string  `json:"sender_name"`
	ChatID     int64   `json:"chat_id"`
	ChatName   string  `json:"chat_name"`
	Private    bool    `json:"private"`
	Text       string  `json:"text"`
	Joined     *Member `json:"joined_member,omitempty"`
	Left       *Member `json:"left_member,omitempty"`
}

// Webhook handles platform updates.
type Webhook struct {
	DB         *gorm.DB
	Members    services.MemberRepo
	Dispatcher *services.Dispatcher
}

// NewWebhook constructs the webhook handler.
func NewWebhook(db *gorm.DB, members services.MemberRepo, d *services.Dispatcher) *Webhook {
	return &Webhook{DB: db, Members: members, Dispatcher: d}
}

// Handle is the POST /webhook/telegram endpoint.
//
// Membership events are applied synchronously (they are single indexed
// writes); message events are dispatched to the worker pool and the request
// is acked without waiting.
func (h *Webhook) Handle(c *gin.Context) {
	var upd WebhookUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		Fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid webhook payload")
		return
	}

	switch {
	case upd.Joined != nil:
		if err := h.upsertMember(c.Request.Context(), upd, *upd.Joined); err != nil {
			Fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to record member")
			return
		}

	case upd.Left != nil:
		if err := h.Members.RemoveMember(c.Request.Context(), h.DB, upd.ChatID, upd.Left.ID); err != nil {
			Fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to remove member")
			return
		}

	case upd.Text != "":
		// Group traffic keeps the mention-resolution table current: every
		// message refreshes the sender's membership row before parsing.
		if !upd.Private {
			sender := Member{ID: upd.SenderID, Name: upd.SenderName}
			if err := h.upsertMember(c.Request.Context(), upd, sender); err != nil {
				Fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to record member")
				return
			}
		}
		h.Dispatcher.Dispatch(services.Event{
			ID:         upd.EventID,
			SenderID:   upd.SenderID,
			SenderName: upd.SenderName,
			ChatID:     upd.ChatID,
			ChatName:   upd.ChatName,
			Private:    upd.Private,
			Text:       upd.Text,
		})
	}

	OK(c, gin.H{"status": "ok"})
}

// upsertMember stores the membership row under the lowercased display name,
// matching how the tip pipeline normalizes mentions before lookup.
func (h *Webhook) upsertMember(ctx context.Context, upd WebhookUpdate, m Member) error {
	if m.Name == "" {
		return nil
	}
	return h.Members.UpsertMember(ctx, h.DB, upd.ChatID, upd.ChatName, m.ID, lower(m.Name))
}
