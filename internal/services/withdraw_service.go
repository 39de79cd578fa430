// Package services – WithdrawService
//
// The withdraw engine: moves some or all of a user's custodial balance to an
// external ledger address. Input is an optional amount plus a mandatory
// destination; with no amount the full reconciled balance is withdrawn.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/node"
	"github.com/nollarcash/tipbot-backend/internal/repo"
	"github.com/nollarcash/tipbot-backend/internal/units"
)

// WithdrawService moves custodial funds to external addresses.
type WithdrawService struct {
	DB       *gorm.DB
	Users    UserRepo
	Ledger   node.Ledger
	Notifier Notifier
	Balances *BalanceService
}

// Handle runs a withdraw command. args are the tokens after the keyword:
// either "<address>" or "<amount> <address>". Rejections are DMed to the
// sender and returned so tests can branch on them.
func (s *WithdrawService) Handle(ctx context.Context, ev Event, args []string) error {
	tr := otel.Tracer("services/WithdrawService")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(attribute.Int64("sender.id", ev.SenderID)),
	)
	defer span.End()

	if len(args) == 0 || len(args) > 2 {
		dm(ctx, s.Notifier, ev.SenderID,
			"I didn't understand your withdraw request.  Please resend with !withdraw <optional:amount> <address>.  Example, !withdraw 1 usd_123 would withdraw 1 NOLLAR to account usd_123.  Also, !withdraw usd_123 would withdraw your entire balance to account usd_123.")
		return ErrBadSyntax
	}

	u, err := s.Users.GetUser(ctx, s.DB, ev.SenderID)
	if errors.Is(err, repo.ErrNotFound) {
		dm(ctx, s.Notifier, ev.SenderID,
			"You do not have an account.  Respond with !register to set one up.")
		return ErrNoAccount
	}
	if err != nil {
		return fmt.Errorf("look up account: %w", err)
	}

	balanceRaw, _, err := s.Balances.Reconcile(ctx, u.Account)
	if err != nil {
		return fmt.Errorf("reconcile before withdraw: %w", err)
	}

	dest := strings.ToLower(args[len(args)-1])
	valid, err := s.Ledger.ValidateAddress(ctx, dest)
	if err != nil {
		return fmt.Errorf("validate destination: %w", err)
	}
	if !valid {
		dm(ctx, s.Notifier, ev.SenderID,
			"The account number you provided is invalid.  Please double check and resend your request.")
		return ErrInvalidAddress
	}

	if balanceRaw == 0 {
		dm(ctx, s.Notifier, ev.SenderID, fmt.Sprintf(
			"You have 0 balance in your account.  Please deposit to your address %s to send more tips!", u.Account))
		return ErrZeroBalance
	}

	withdrawRaw := balanceRaw
	display := units.FormatRaw(balanceRaw)
	if len(args) == 2 {
		amount, err := units.ParseAmount(args[0])
		if err != nil {
			dm(ctx, s.Notifier, ev.SenderID,
				"You did not send a number to withdraw.  Please resend with the format !withdraw <address> or !withdraw <amount> <address>")
			return ErrNotANumber
		}
		withdrawRaw = units.ToRaw(amount)
		display = units.Format(amount)
		if withdrawRaw > balanceRaw {
			dm(ctx, s.Notifier, ev.SenderID,
				"You do not have that much NOLLAR in your account.  To withdraw your full amount, send !withdraw <address>")
			return ErrInsufficientFunds
		}
	}

	work, err := acquireWork(ctx, s.Ledger, u.Account)
	if err != nil {
		return fmt.Errorf("work for withdraw: %w", err)
	}
	hash, err := s.Ledger.Send(ctx, u.Account, dest, withdrawRaw, work, "")
	if err != nil {
		dm(ctx, s.Notifier, ev.SenderID,
			"Something went wrong processing your withdraw.  Your funds have not been moved; please try again later.")
		return fmt.Errorf("submit withdraw: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("send_hash", hash).
		Str("destination", dest).
		Int64("amount_raw", withdrawRaw).
		Msg("withdraw processed")

	dm(ctx, s.Notifier, ev.SenderID,
		fmt.Sprintf("You have successfully withdrawn %s NOLLAR!", display))
	return nil
}
