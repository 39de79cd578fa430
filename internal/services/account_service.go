// Package services – AccountService
//
// The account directory: resolves a platform identity to its custodial
// ledger account, creating and persisting one on first use, and owns the
// registration flag. All other components resolve addresses through it
// rather than caching them across events.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/node"
	"github.com/nollarcash/tipbot-backend/internal/repo"
)

// AccountService owns the platform-user → ledger-address mapping.
type AccountService struct {
	DB       *gorm.DB
	Users    UserRepo
	Ledger   node.Ledger
	Notifier Notifier
}

// ResolveOrCreate looks up the user's ledger account, allocating a fresh one
// under the custodial wallet when none exists. register reflects the
// caller's intent: explicit registration commands pass true (and flip the
// flag on an existing unregistered account); implicit creation because
// somebody tipped the user passes false, leaving the account unregistered
// until the user claims it.
func (s *AccountService) ResolveOrCreate(ctx context.Context, userID int64, userName string, register bool) (addr string, created, newlyRegistered bool, err error) {
	tr := otel.Tracer("services/AccountService")
	ctx, span := tr.Start(ctx, "ResolveOrCreate",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()

	u, err := s.Users.GetUser(ctx, s.DB, userID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		addr, err = s.Ledger.AccountCreate(ctx)
		if err != nil {
			return "", false, false, fmt.Errorf("create ledger account: %w", err)
		}
		if _, err = s.Users.CreateUser(ctx, s.DB, userID, userName, addr, register); err != nil {
			return "", false, false, fmt.Errorf("persist account: %w", err)
		}
		zerolog.Ctx(ctx).Info().
			Int64("user_id", userID).
			Str("account", addr).
			Bool("registered", register).
			Msg("created ledger account")
		return addr, true, register, nil

	case err != nil:
		return "", false, false, fmt.Errorf("look up account: %w", err)
	}

	if register && !u.Registered {
		if err := s.Users.SetRegistered(ctx, s.DB, userID); err != nil {
			return "", false, false, fmt.Errorf("mark registered: %w", err)
		}
		newlyRegistered = true
	}
	return u.Account, false, newlyRegistered, nil
}

// Register handles the !register command: create (or claim) the sender's
// account, mark it registered, and DM the address.
func (s *AccountService) Register(ctx context.Context, ev Event) error {
	addr, created, newlyRegistered, err := s.ResolveOrCreate(ctx, ev.SenderID, ev.SenderName, true)
	if err != nil {
		return err
	}

	switch {
	case created, newlyRegistered:
		s.sendAccount(ctx, ev.SenderID, "You have successfully registered for an account.  Your account number is:", addr)
	default:
		s.sendAccount(ctx, ev.SenderID, "You already have registered your account.  Your account number is:", addr)
	}
	return nil
}

// AccountInfo handles the !account command: report the sender's deposit
// address, creating a registered account first when none exists.
func (s *AccountService) AccountInfo(ctx context.Context, ev Event) error {
	addr, created, _, err := s.ResolveOrCreate(ctx, ev.SenderID, ev.SenderName, true)
	if err != nil {
		return err
	}

	if created {
		s.sendAccount(ctx, ev.SenderID, "You didn't have an account set up, so I set one up for you.  Your account number is:", addr)
	} else {
		s.sendAccount(ctx, ev.SenderID, "Your account number is:", addr)
	}
	return nil
}

// sendAccount DMs an explanatory line followed by the bare address, so the
// address arrives in its own message and is easy to copy on mobile clients.
func (s *AccountService) sendAccount(ctx context.Context, userID int64, text, addr string) {
	dm(ctx, s.Notifier, userID, text)
	dm(ctx, s.Notifier, userID, addr)
}
