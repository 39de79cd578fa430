// Package services – Dispatcher
//
// The command dispatcher routes a normalized inbound event to the engine
// that handles its verb. Each event is handed to a worker pool and the
// caller returns immediately: the transport acks the platform before any
// business logic runs, and never observes its outcome (fire-and-forget).
package services

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Event is the normalized inbound record handed over by the transport, one
// per triggering platform event.
type Event struct {
	// ID is the platform event id; tip idempotency keys derive from it.
	ID         string
	SenderID   int64
	SenderName string
	ChatID     int64
	ChatName   string
	// Private is true for direct-message channels. Tips are only accepted
	// from group channels, where mentions are resolvable.
	Private bool
	Text    string
}

// helpText is the command guide sent for !help (and /start).
const helpText = "Thank you for using the NOLLAR tip bot!  Below is a list of commands, and a description of how you can interact with me:\n\n" +
	"• !help: Responds with this list of commands and their functions.\n\n" +
	"• !register: Creates a fresh NOLLAR account address specifically for you.  This is used to store your tips.  Make sure to withdraw to a private wallet, as the tip bot is not meant to be a long term storage device.\n\n" +
	"• !balance: Shows you how much funds are in your account.\n\n" +
	"• !tip: Tips are sent directly to @username in group chat.  Send !tip <amount> <@username> to tip another user.\n\n" +
	"• !account: Returns your account number.  You can use this to deposit more NOLLAR to tip from your personal wallet.\n\n" +
	"• !withdraw: Send !withdraw <address> to withdraw your full balance, or !withdraw <amount> <address> to withdraw part of it.\n\n"

// Dispatcher owns the worker pool and the verb → engine routing table.
type Dispatcher struct {
	Accounts  *AccountService
	Balances  *BalanceService
	TipEngine *TipService
	Withdraws *WithdrawService
	Notifier  Notifier

	// BotID is the bot's own platform id; its messages are ignored.
	BotID int64

	Log zerolog.Logger

	queue chan Event
	wg    sync.WaitGroup
	once  sync.Once
}

// Start spawns the worker pool. queueSize bounds how many events may be
// waiting; an event arriving at a full queue is dropped with a log line
// rather than stalling the transport.
func (d *Dispatcher) Start(workers, queueSize int) {
	d.once.Do(func() {
		if workers < 1 {
			workers = 1
		}
		if queueSize < 1 {
			queueSize = 1
		}
		d.queue = make(chan Event, queueSize)
		for i := 0; i < workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Close stops accepting events and waits for in-flight work to finish.
// Closing a dispatcher that was never started is a no-op.
func (d *Dispatcher) Close() {
	if d.queue == nil {
		return
	}
	close(d.queue)
	d.wg.Wait()
}

// Dispatch enqueues an event and returns immediately. The transport never
// learns the outcome of the background processing.
func (d *Dispatcher) Dispatch(ev Event) {
	select {
	case d.queue <- ev:
	default:
		d.Log.Error().Str("event_id", ev.ID).Msg("event queue full, dropping event")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.handle(ev)
	}
}

// handle processes one event to completion. A panic in an engine is
// contained here so one poisoned event cannot take down the pool.
func (d *Dispatcher) handle(ev Event) {
	lg := d.Log.With().
		Str("event_id", ev.ID).
		Int64("sender_id", ev.SenderID).
		Logger()
	ctx := lg.WithContext(context.Background())

	defer func() {
		if r := recover(); r != nil {
			lg.Error().Interface("panic", r).Msg("panic while processing event")
		}
	}()

	if ev.SenderID == d.BotID {
		return
	}

	tokens := tokenize(ev.Text)
	if len(tokens) == 0 {
		return
	}

	var err error
	if ev.Private {
		err = d.routePrivate(ctx, ev, tokens)
	} else {
		err = d.routeGroup(ctx, ev, tokens)
	}
	if err != nil {
		lg.Warn().Err(err).Msg("command finished with rejection or error")
	}
}

// routePrivate maps a direct-message verb to its engine. Only sigil-prefixed
// commands ("!balance", "/balance") are recognized.
func (d *Dispatcher) routePrivate(ctx context.Context, ev Event, tokens []string) error {
	v := ""
	if strings.HasPrefix(tokens[0], "!") || strings.HasPrefix(tokens[0], "/") {
		v = verb(tokens[0])
	}
	switch v {
	case "help", "start":
		dm(ctx, d.Notifier, ev.SenderID, helpText)
		return nil
	case "balance":
		return d.Balances.Balance(ctx, ev)
	case "register":
		return d.Accounts.Register(ctx, ev)
	case "account":
		return d.Accounts.AccountInfo(ctx, ev)
	case "withdraw":
		return d.Withdraws.Handle(ctx, ev, tokens[1:])
	case "tip":
		// Tips need resolvable mentions, which only exist in group chats.
		dm(ctx, d.Notifier, ev.SenderID,
			"Tips are processed through public messages now.  Please send this message in group chat in the format !tip 1 @user1.")
		return nil
	default:
		dm(ctx, d.Notifier, ev.SenderID,
			"The command or syntax you sent is not recognized.  Please send !help for a list of commands and what they do.")
		return nil
	}
}

// routeGroup scans a group message for the tip keyword; everything else in
// group chat is ignored.
func (d *Dispatcher) routeGroup(ctx context.Context, ev Event, tokens []string) error {
	for i, tok := range tokens {
		if verb(tok) == "tip" && (strings.HasPrefix(tok, "!") || strings.HasPrefix(tok, "/")) {
			return d.TipEngine.Handle(ctx, ev, tokens[i+1:])
		}
	}
	return nil
}

// tokenize lowercases the message, folds newlines into spaces, and splits
// it into fields.
func tokenize(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.Fields(strings.ToLower(text))
}

// verb strips the command sigil ("!" or "/") from a token.
func verb(tok string) string {
	return strings.TrimPrefix(strings.TrimPrefix(tok, "!"), "/")
}
