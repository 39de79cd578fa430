// Package services – BalanceService
//
// The balance reconciler: sweeps pending incoming blocks into an account
// before any balance-dependent decision, then reports the confirmed balance
// in both raw and display units. Sweeping is best-effort per block — a block
// that fails to receive is left for the next reconciliation pass.
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
	"github.com/nollarcash/tipbot-backend/internal/units"
)

// BalanceService sweeps pending blocks and answers balance queries.
type BalanceService struct {
	DB       *gorm.DB
	Users    UserRepo
	Ledger   node.Ledger
	Notifier Notifier
}

// Reconcile sweeps every pending block into addr and returns the confirmed
// balance in raw units alongside its display form. Each pending block is
// fully received before the next is attempted; a failure receiving one block
// is logged and does not abort receipt of the others — the node call is
// simply retried at the next reconciliation pass. A failure listing pending
// blocks or querying the balance surfaces to the caller, which decides
// whether to proceed with a stale balance or abort.
func (s *BalanceService) Reconcile(ctx context.Context, addr string) (int64, string, error) {
	tr := otel.Tracer("services/BalanceService")
	ctx, span := tr.Start(ctx, "Reconcile",
		trace.WithAttributes(attribute.String("ledger.account", addr)),
	)
	defer span.End()

	lg := zerolog.Ctx(ctx)

	blocks, err := s.Ledger.Pending(ctx, addr)
	if err != nil {
		return 0, "", fmt.Errorf("list pending blocks: %w", err)
	}
	for _, block := range blocks {
		work, err := acquireWork(ctx, s.Ledger, addr)
		if err != nil {
			return 0, "", fmt.Errorf("work for receive: %w", err)
		}
		if err := s.Ledger.Receive(ctx, addr, block, work); err != nil {
			lg.Warn().Err(err).Str("block", block).Msg("failed to receive pending block")
			continue
		}
		lg.Debug().Str("block", block).Msg("received pending block")
	}

	raw, err := s.Ledger.AccountBalance(ctx, addr)
	if err != nil {
		return 0, "", fmt.Errorf("query balance: %w", err)
	}
	return raw, units.FormatRaw(raw), nil
}

// Balance handles the !balance command: sweep, then DM the display balance.
// Asking for a balance implies the user claims the account, so the
// registration flag is flipped on the way through.
func (s *BalanceService) Balance(ctx context.Context, ev Event) error {
	u, err := s.Users.GetUser(ctx, s.DB, ev.SenderID)
	if errors.Is(err, repo.ErrNotFound) {
		dm(ctx, s.Notifier, ev.SenderID,
			"There is no account linked to your username.  Please respond with !register to create an account.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up account: %w", err)
	}

	if !u.Registered {
		if err := s.Users.SetRegistered(ctx, s.DB, ev.SenderID); err != nil {
			return fmt.Errorf("mark registered: %w", err)
		}
	}

	_, display, err := s.Reconcile(ctx, u.Account)
	if err != nil {
		return err
	}
	dm(ctx, s.Notifier, ev.SenderID, fmt.Sprintf("Your balance is %s NOLLAR.", display))
	return nil
}

// acquireWork fetches the account frontier and generates proof-of-work for
// it. An account with no frontier yet needs no work for its first block, so
// ("", nil) is returned; a frontier lookup failure is treated the same way
// and logged, leaving it to the node to reject the submission if work was
// in fact required.
func acquireWork(ctx context.Context, l node.Ledger, addr string) (string, error) {
	frontier, err := l.Frontier(ctx, addr)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("account", addr).Msg("frontier lookup failed, submitting without work")
		return "", nil
	}
	if frontier == "" {
		return "", nil
	}
	return l.GenerateWork(ctx, frontier)
}
