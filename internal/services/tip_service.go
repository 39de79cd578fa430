// Package services – TipService
//
// The tip pipeline: validates a group-chat tip command (amount, minimum,
// mention resolution, sender account, sufficiency of the swept balance) and
// fans the validated tip out across recipients as independent ledger
// transfers. Fan-out is best-effort: one recipient's failure never rolls
// back or blocks the others, and a notification failure never unwinds an
// already-submitted transfer.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/domain"
	"github.com/nollarcash/tipbot-backend/internal/node"
	"github.com/nollarcash/tipbot-backend/internal/repo"
	"github.com/nollarcash/tipbot-backend/internal/units"
)

// mentionSigil prefixes a token that names a tip recipient.
const mentionSigil = "@"

// Recipient is one entry of a fan-out set. Account is resolved lazily
// during the send phase; its lifetime is bounded to one command.
type Recipient struct {
	ID      int64
	Name    string
	Account string
}

// tipPlan is the outcome of a successfully validated tip command.
type tipPlan struct {
	amount     decimal.Decimal // per-recipient display amount
	amountRaw  int64           // per-recipient raw amount
	amountText string          // fixed-precision rendering for notices
	recipients []Recipient
	sender     *domain.User
}

// TipService validates and distributes tips.
type TipService struct {
	DB       *gorm.DB
	Users    UserRepo
	Members  MemberRepo
	Tips     TipRepo
	Ledger   node.Ledger
	Notifier Notifier
	Accounts *AccountService
	Balances *BalanceService

	// MinTip is the minimum per-recipient amount in display units.
	MinTip decimal.Decimal
}

// Handle runs the full pipeline for one tip command. args are the tokens
// following the tip keyword: an amount and then recipient mentions. Every
// rejection is reported to the originating chat; validation errors are also
// returned so callers and tests can branch on them. A command that resolves
// zero recipients is silently dropped.
//
// The sufficiency check is a point-in-time check against the swept balance,
// not a transactional guarantee: two concurrent commands from the same
// sender can both pass it before either transfer settles. The ledger node's
// own balance enforcement is the backstop.
func (s *TipService) Handle(ctx context.Context, ev Event, args []string) error {
	tr := otel.Tracer("services/TipService")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("event.id", ev.ID),
			attribute.Int64("sender.id", ev.SenderID),
		),
	)
	defer span.End()

	plan, err := s.validate(ctx, ev, args)
	if err != nil {
		return err
	}
	if plan == nil || len(plan.recipients) == 0 {
		return nil
	}

	s.send(ctx, ev, plan)
	return nil
}

// validate walks the rejection pipeline in order and returns the plan for
// the send phase, nil when the command resolved no recipients, or the
// rejection that was reported to the chat.
func (s *TipService) validate(ctx context.Context, ev Event, args []string) (*tipPlan, error) {
	// 1. Amount must be a positive decimal.
	if len(args) == 0 {
		chat(ctx, s.Notifier, ev.ChatID, noticeTipNotANumber)
		return nil, ErrNotANumber
	}
	amount, err := units.ParseAmount(args[0])
	if err != nil {
		chat(ctx, s.Notifier, ev.ChatID, noticeTipNotANumber)
		return nil, ErrNotANumber
	}

	// 2. Configured minimum.
	if amount.LessThan(s.MinTip) {
		chat(ctx, s.Notifier, ev.ChatID,
			fmt.Sprintf("The minimum tip amount is %s NOLLAR.  Please update your tip amount and try again.", units.Format(s.MinTip)))
		return nil, ErrBelowMinimum
	}

	// 3. Resolve mentions. One unresolved mention rejects the whole
	// command; the sender's own mention joins the set without a lookup
	// and is rejected per recipient in the send phase.
	recipients, err := s.resolveRecipients(ctx, ev, args[1:])
	if err != nil {
		return nil, err
	}

	// 4. Zero recipients: nothing to do, no notice.
	if len(recipients) == 0 {
		return nil, nil
	}

	// 5. Sender must have an account. Tipping implies the sender claims it.
	sender, err := s.Users.GetUser(ctx, s.DB, ev.SenderID)
	if errors.Is(err, repo.ErrNotFound) {
		chat(ctx, s.Notifier, ev.ChatID,
			"You do not have an account with the bot.  Please send a DM to me with !register to set up an account.")
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("look up sender: %w", err)
	}
	if !sender.Registered {
		if err := s.Users.SetRegistered(ctx, s.DB, ev.SenderID); err != nil {
			return nil, fmt.Errorf("mark sender registered: %w", err)
		}
	}

	// 6. Swept balance must cover amount × recipients.
	balanceRaw, _, err := s.Balances.Reconcile(ctx, sender.Account)
	if err != nil {
		return nil, fmt.Errorf("reconcile sender: %w", err)
	}
	total := amount.Mul(decimal.NewFromInt(int64(len(recipients))))
	if balanceRaw < units.ToRaw(total) {
		chat(ctx, s.Notifier, ev.ChatID,
			fmt.Sprintf("You do not have enough NOLLAR to cover this %s NOLLAR tip.  Please check your balance by sending a DM to me with !balance and retry.", units.Format(total)))
		return nil, ErrInsufficientFunds
	}

	return &tipPlan{
		amount:     amount,
		amountRaw:  units.ToRaw(amount),
		amountText: units.Format(amount),
		recipients: recipients,
		sender:     sender,
	}, nil
}

// resolveRecipients scans tokens for mentions and resolves each against the
// chat's membership records, preserving mention order. The sender's own
// mention needs no lookup: it enters the set as-is and the send phase rejects
// it with a notice. An unresolvable mention rejects the entire command so no
// partial fan-out can occur.
func (s *TipService) resolveRecipients(ctx context.Context, ev Event, tokens []string) ([]Recipient, error) {
	var out []Recipient
	selfMention := mentionSigil + strings.ToLower(ev.SenderName)
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, mentionSigil) || len(tok) == len(mentionSigil) {
			continue
		}
		if strings.EqualFold(tok, selfMention) {
			out = append(out, Recipient{ID: ev.SenderID, Name: ev.SenderName})
			continue
		}
		name := tok[len(mentionSigil):]
		m, err := s.Members.GetMemberByName(ctx, s.DB, ev.ChatID, name)
		if errors.Is(err, repo.ErrNotFound) {
			chat(ctx, s.Notifier, ev.ChatID,
				fmt.Sprintf("%s not found in our records.  In order to tip them, they need to be a member of the channel.  If they are in the channel, please have them send a message in the chat so I can add them.", tok))
			return nil, ErrUnknownRecipient
		}
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", tok, err)
		}
		out = append(out, Recipient{ID: m.MemberID, Name: m.MemberName})
	}
	return out, nil
}

// send fans the validated tip out across recipients, strictly in resolution
// order. Per recipient: self-tip guard, lazy account resolution, a tip id of
// eventID-index as idempotency key, proof-of-work on the sender's frontier,
// transfer submission, transfer record persistence, and a best-effort
// balance notification. A recipient's failure is logged and the loop moves
// on; only a store write failure aborts the remainder of the fan-out.
func (s *TipService) send(ctx context.Context, ev Event, plan *tipPlan) {
	lg := zerolog.Ctx(ctx)
	sent := 0
	for i := range plan.recipients {
		r := &plan.recipients[i]

		// Self-tips are rejected here, per recipient: the sender's own
		// mention and a stale membership row mapping back to the sender
		// both land in the set.
		if r.ID == ev.SenderID {
			chat(ctx, s.Notifier, ev.ChatID,
				"Self tipping is not allowed.  Please use this bot to spread the NOLLAR to other users!")
			continue
		}

		addr, _, _, err := s.Accounts.ResolveOrCreate(ctx, r.ID, r.Name, false)
		if err != nil {
			lg.Error().Err(err).Int64("receiver_id", r.ID).Msg("failed to resolve recipient account")
			continue
		}
		r.Account = addr

		tipID := fmt.Sprintf("%s-%d", ev.ID, i)

		work, err := acquireWork(ctx, s.Ledger, plan.sender.Account)
		if err != nil {
			lg.Error().Err(err).Str("tip_id", tipID).Msg("failed to acquire work")
			continue
		}

		hash, err := s.Ledger.Send(ctx, plan.sender.Account, addr, plan.amountRaw, work, tipID)
		if err != nil {
			lg.Error().Err(err).Str("tip_id", tipID).Msg("transfer submission failed")
			continue
		}
		sent++
		lg.Info().
			Str("tip_id", tipID).
			Str("send_hash", hash).
			Int64("receiver_id", r.ID).
			Int64("amount_raw", plan.amountRaw).
			Msg("tip sent")

		_, err = s.Tips.CreateTip(ctx, s.DB, &domain.Tip{
			TipID:      tipID,
			EventID:    ev.ID,
			SenderID:   ev.SenderID,
			ReceiverID: r.ID,
			AmountRaw:  plan.amountRaw,
			Status:     domain.TipStatusSubmitted,
			SourceText: ev.Text,
		})
		if errors.Is(err, repo.ErrDuplicate) {
			// Replay of an already-processed event; the node deduplicated
			// the send by id, and the record already exists.
			lg.Info().Str("tip_id", tipID).Msg("tip already recorded, skipping")
			continue
		}
		if err != nil {
			lg.Error().Err(err).Str("tip_id", tipID).Msg("failed to persist tip record, aborting fan-out")
			return
		}

		s.notifyRecipient(ctx, ev, r, plan.amountText)
	}

	// The aggregate notice reports what was actually submitted. A fan-out
	// where every recipient was skipped (self-tip, resolution failure)
	// must not claim success.
	switch {
	case sent == 0:
	case sent >= 2:
		chat(ctx, s.Notifier, ev.ChatID,
			fmt.Sprintf("You have successfully sent your %s NOLLAR tips.", plan.amountText))
	default:
		chat(ctx, s.Notifier, ev.ChatID,
			fmt.Sprintf("You have successfully sent your %s NOLLAR tip.", plan.amountText))
	}
}

// notifyRecipient sweeps the recipient's account and DMs them their new
// balance. Failures here are logged and swallowed: the transfer is already
// on the ledger and must not be unwound by a messaging hiccup.
func (s *TipService) notifyRecipient(ctx context.Context, ev Event, r *Recipient, amountText string) {
	_, display, err := s.Balances.Reconcile(ctx, r.Account)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("receiver_id", r.ID).Msg("failed to reconcile recipient after tip")
		return
	}
	dm(ctx, s.Notifier, r.ID, fmt.Sprintf(
		"@%s just sent you a %s NOLLAR tip! Your balance is now %s NOLLAR.  Reply with !register to claim your account, or !help to see a list of commands.",
		ev.SenderName, amountText, display))
}

// noticeTipNotANumber is shared by the missing-amount and unparsable-amount
// rejections.
const noticeTipNotANumber = "Looks like the value you entered to tip was not a number.  You can try to tip again using the format !tip 1234 @username"
