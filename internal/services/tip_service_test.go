package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nollarcash/tipbot-backend/internal/domain"
)

const (
	senderID   = int64(100)
	chatID     = int64(-500)
	senderAddr = "usd_sender"
)

type tipFixture struct {
	svc      *TipService
	users    *fakeUserRepo
	members  *fakeMemberRepo
	tips     *fakeTipRepo
	ledger   *fakeLedger
	notifier *fakeNotifier
}

func newTipFixture() *tipFixture {
	users := newFakeUserRepo(&domain.User{
		UserID: senderID, UserName: "alice", Account: senderAddr, Registered: true,
	})
	members := newFakeMemberRepo(
		&domain.ChatMember{ChatID: chatID, MemberName: "bob", MemberID: 200},
		&domain.ChatMember{ChatID: chatID, MemberName: "carol", MemberID: 300},
	)
	ledger := newFakeLedger()
	ledger.balances[senderAddr] = 1000
	notifier := &fakeNotifier{}

	accounts := &AccountService{Users: users, Ledger: ledger, Notifier: notifier}
	balances := &BalanceService{Users: users, Ledger: ledger, Notifier: notifier}
	tips := newFakeTipRepo()

	return &tipFixture{
		svc: &TipService{
			Users:    users,
			Members:  members,
			Tips:     tips,
			Ledger:   ledger,
			Notifier: notifier,
			Accounts: accounts,
			Balances: balances,
			MinTip:   decimal.RequireFromString("0.01"),
		},
		users:    users,
		members:  members,
		tips:     tips,
		ledger:   ledger,
		notifier: notifier,
	}
}

func tipEvent(text string) Event {
	return Event{
		ID:         "ev1",
		SenderID:   senderID,
		SenderName: "alice",
		ChatID:     chatID,
		ChatName:   "nollar-chat",
		Text:       text,
	}
}

func TestTipFanOutAcrossRecipients(t *testing.T) {
	fx := newTipFixture()
	ev := tipEvent("!tip 1 @bob @carol")

	if err := fx.svc.Handle(context.Background(), ev, []string{"1", "@bob", "@carol"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	sends := fx.ledger.sentCalls()
	if len(sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(sends))
	}
	// Recipient order follows mention order; ids derive from event id + index.
	if sends[0].id != "ev1-0" || sends[1].id != "ev1-1" {
		t.Fatalf("tip ids = %q, %q", sends[0].id, sends[1].id)
	}
	for _, s := range sends {
		if s.source != senderAddr || s.rawAmount != 100 {
			t.Errorf("send = %+v, want source %s amount 100", s, senderAddr)
		}
	}
	if fx.tips.count() != 2 {
		t.Fatalf("tip records = %d, want 2", fx.tips.count())
	}
	if c, ok := fx.notifier.lastChat(); !ok || !strings.Contains(c.text, "tips") {
		t.Fatalf("want plural success notice, got %+v", c)
	}
}

func TestTipSingleRecipientNotice(t *testing.T) {
	fx := newTipFixture()
	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @bob"), []string{"1", "@bob"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	c, ok := fx.notifier.lastChat()
	if !ok || !strings.Contains(c.text, "tip.") || strings.Contains(c.text, "tips.") {
		t.Fatalf("want singular success notice, got %+v", c)
	}
}

func TestTipCreatesRecipientAccountLazily(t *testing.T) {
	fx := newTipFixture()
	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @bob"), []string{"1", "@bob"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	// bob had no account; one was allocated, unregistered.
	u, err := fx.users.GetUser(context.Background(), nil, 200)
	if err != nil {
		t.Fatalf("recipient user not created: %v", err)
	}
	if u.Registered {
		t.Error("implicitly created account must stay unregistered")
	}
	if u.Account == "" {
		t.Error("recipient account empty")
	}
}

func TestTipRejectsMissingAmount(t *testing.T) {
	fx := newTipFixture()
	err := fx.svc.Handle(context.Background(), tipEvent("!tip"), nil)
	if !errors.Is(err, ErrNotANumber) {
		t.Fatalf("err = %v, want ErrNotANumber", err)
	}
	if len(fx.ledger.sentCalls()) != 0 {
		t.Error("no transfer may be submitted")
	}
	if c, ok := fx.notifier.lastChat(); !ok || !strings.Contains(c.text, "was not a number") {
		t.Fatalf("want not-a-number notice, got %+v", c)
	}
}

func TestTipRejectsNonNumericAmount(t *testing.T) {
	fx := newTipFixture()
	err := fx.svc.Handle(context.Background(), tipEvent("!tip lol @bob"), []string{"lol", "@bob"})
	if !errors.Is(err, ErrNotANumber) {
		t.Fatalf("err = %v, want ErrNotANumber", err)
	}
}

func TestTipRejectsBelowMinimum(t *testing.T) {
	fx := newTipFixture()
	fx.svc.MinTip = decimal.RequireFromString("1")
	err := fx.svc.Handle(context.Background(), tipEvent("!tip 0.5 @bob"), []string{"0.5", "@bob"})
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
	if c, ok := fx.notifier.lastChat(); !ok || !strings.Contains(c.text, "minimum tip amount is 1 NOLLAR") {
		t.Fatalf("want minimum notice, got %+v", c)
	}
}

func TestTipUnknownMentionRejectsWholeCommand(t *testing.T) {
	fx := newTipFixture()
	err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @bob @nobody"), []string{"1", "@bob", "@nobody"})
	if !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("err = %v, want ErrUnknownRecipient", err)
	}
	// bob must not be paid either: no partial fan-out on a bad mention.
	if len(fx.ledger.sentCalls()) != 0 {
		t.Fatal("no transfers may be submitted when any mention is unresolvable")
	}
	if c, ok := fx.notifier.lastChat(); !ok || !strings.Contains(c.text, "@nobody not found") {
		t.Fatalf("want unknown-recipient notice, got %+v", c)
	}
}

func TestTipSelfMentionRejectedAtSend(t *testing.T) {
	fx := newTipFixture()
	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @alice"), []string{"1", "@alice"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(fx.ledger.sentCalls()) != 0 {
		t.Error("self-mention must not produce a transfer")
	}
	if !chatNoticeContains(fx.notifier, "Self tipping is not allowed") {
		t.Error("want self-tipping notice")
	}
	// Nothing was sent, so the chat must not be told otherwise.
	if chatNoticeContains(fx.notifier, "successfully sent") {
		t.Error("success notice with zero transfers submitted")
	}
}

func TestTipSelfMentionDoesNotBlockOthers(t *testing.T) {
	fx := newTipFixture()
	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @alice @bob"), []string{"1", "@alice", "@bob"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	sends := fx.ledger.sentCalls()
	if len(sends) != 1 {
		t.Fatalf("sends = %+v, want only the valid recipient paid", sends)
	}
	// The self recipient keeps its fan-out slot, so bob's id carries
	// index 1.
	if sends[0].id != "ev1-1" {
		t.Fatalf("tip id = %q, want ev1-1", sends[0].id)
	}
	if !chatNoticeContains(fx.notifier, "Self tipping is not allowed") {
		t.Error("want self-tipping notice alongside the valid transfer")
	}
	// Only one transfer went out, so the success notice is singular.
	c, ok := fx.notifier.lastChat()
	if !ok || !strings.Contains(c.text, "tip.") || strings.Contains(c.text, "tips.") {
		t.Fatalf("want singular success notice for the one transfer, got %+v", c)
	}
}

func TestTipSelfViaStaleMembershipRow(t *testing.T) {
	fx := newTipFixture()
	// A membership row maps the name "shadow" back to the sender's id.
	fx.members.UpsertMember(context.Background(), nil, chatID, "nollar-chat", senderID, "shadow")

	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @shadow"), []string{"1", "@shadow"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(fx.ledger.sentCalls()) != 0 {
		t.Error("self tip must not produce a transfer")
	}
	if !chatNoticeContains(fx.notifier, "Self tipping is not allowed") {
		t.Error("want self-tipping notice")
	}
	if chatNoticeContains(fx.notifier, "successfully sent") {
		t.Error("success notice with zero transfers submitted")
	}
}

func chatNoticeContains(n *fakeNotifier, substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.chats {
		if strings.Contains(c.text, substr) {
			return true
		}
	}
	return false
}

func TestTipRejectsSenderWithoutAccount(t *testing.T) {
	fx := newTipFixture()
	ev := tipEvent("!tip 1 @bob")
	ev.SenderID = 999
	ev.SenderName = "mallory"

	err := fx.svc.Handle(context.Background(), ev, []string{"1", "@bob"})
	if !errors.Is(err, ErrNoAccount) {
		t.Fatalf("err = %v, want ErrNoAccount", err)
	}
	if c, ok := fx.notifier.lastChat(); !ok || !strings.Contains(c.text, "!register") {
		t.Fatalf("want register hint, got %+v", c)
	}
}

func TestTipInsufficientFunds(t *testing.T) {
	fx := newTipFixture()
	fx.ledger.balances[senderAddr] = 450 // 4.5 NOLLAR

	err := fx.svc.Handle(context.Background(), tipEvent("!tip 5 @bob"), []string{"5", "@bob"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if c, ok := fx.notifier.lastChat(); !ok || !strings.Contains(c.text, "do not have enough NOLLAR") {
		t.Fatalf("want insufficient notice, got %+v", c)
	}

	// 4 NOLLAR fits within the 4.5 balance.
	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 4 @bob"), []string{"4", "@bob"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(fx.ledger.sentCalls()) != 1 {
		t.Fatalf("sends = %d, want 1", len(fx.ledger.sentCalls()))
	}
}

func TestTipSufficiencyCoversWholeFanOut(t *testing.T) {
	fx := newTipFixture()
	fx.ledger.balances[senderAddr] = 150 // covers one 1-NOLLAR tip, not two

	err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @bob @carol"), []string{"1", "@bob", "@carol"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if c, ok := fx.notifier.lastChat(); !ok || !strings.Contains(c.text, "2 NOLLAR tip") {
		t.Fatalf("notice must quote the total, got %+v", c)
	}
}

func TestTipSufficiencyIsPointInTime(t *testing.T) {
	// The sufficiency check reads the swept balance once; it does not
	// reserve funds. A second command validated before the first settles
	// also passes, and the ledger node is the backstop. This pins the
	// documented behavior so a future reservation scheme shows up as a
	// deliberate change.
	fx := newTipFixture()
	fx.ledger.balances[senderAddr] = 100

	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @bob"), []string{"1", "@bob"}); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	ev2 := tipEvent("!tip 1 @carol")
	ev2.ID = "ev2"
	if err := fx.svc.Handle(context.Background(), ev2, []string{"1", "@carol"}); err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if got := len(fx.ledger.sentCalls()); got != 2 {
		t.Fatalf("sends = %d, want 2 (no client-side reservation)", got)
	}
}

func TestTipReplayIsIdempotent(t *testing.T) {
	fx := newTipFixture()
	ev := tipEvent("!tip 1 @bob")
	args := []string{"1", "@bob"}

	if err := fx.svc.Handle(context.Background(), ev, args); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := fx.svc.Handle(context.Background(), ev, args); err != nil {
		t.Fatalf("replayed Handle: %v", err)
	}

	// Both passes submit to the node (which deduplicates by id), but only
	// one record exists and both submissions carried the same id.
	sends := fx.ledger.sentCalls()
	if len(sends) != 2 || sends[0].id != sends[1].id {
		t.Fatalf("sends = %+v, want two submissions with one id", sends)
	}
	if fx.tips.count() != 1 {
		t.Fatalf("tip records = %d, want 1", fx.tips.count())
	}
}

func TestTipPersistenceFailureAbortsFanOut(t *testing.T) {
	fx := newTipFixture()
	fx.tips.createErr = errors.New("disk full")
	fx.tips.failAfter = 1

	err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @bob @carol"), []string{"1", "@bob", "@carol"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if fx.tips.count() != 1 {
		t.Fatalf("tip records = %d, want 1", fx.tips.count())
	}
	// The aborted fan-out must not claim success in chat.
	if c, ok := fx.notifier.lastChat(); ok && strings.Contains(c.text, "successfully") {
		t.Fatalf("success notice after aborted fan-out: %+v", c)
	}
}

func TestTipRecipientFailureDoesNotBlockOthers(t *testing.T) {
	fx := newTipFixture()
	// carol resolves, bob's account allocation fails on the ledger: fail
	// the first AccountCreate, succeed afterwards.
	fx.ledger.createErr = errors.New("node busy")

	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 1 @bob @carol"), []string{"1", "@bob", "@carol"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	// bob's resolution failed and was skipped; clear the fault and verify
	// a later command still reaches him.
	fx.ledger.mu.Lock()
	fx.ledger.createErr = nil
	fx.ledger.mu.Unlock()

	ev2 := tipEvent("!tip 1 @bob")
	ev2.ID = "ev2"
	if err := fx.svc.Handle(context.Background(), ev2, []string{"1", "@bob"}); err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if got := len(fx.ledger.sentCalls()); got != 1 {
		t.Fatalf("sends = %d, want 1 (carol also failed AccountCreate in pass one)", got)
	}
}

func TestTipRecipientBalanceDM(t *testing.T) {
	fx := newTipFixture()
	if err := fx.svc.Handle(context.Background(), tipEvent("!tip 0.5 @bob"), []string{"0.5", "@bob"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	d, ok := fx.notifier.lastDM()
	if !ok || d.to != 200 {
		t.Fatalf("want DM to recipient 200, got %+v", d)
	}
	if !strings.Contains(d.text, "@alice just sent you a 0.5 NOLLAR tip") {
		t.Fatalf("DM text = %q", d.text)
	}
}
