package services

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/domain"
	"github.com/nollarcash/tipbot-backend/internal/repo"
)

// ---- fake user repo ----

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]*domain.User

	getErr           error
	setRegisteredErr error
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	f := &fakeUserRepo{users: make(map[int64]*domain.User)}
	for _, u := range users {
		f.users[u.UserID] = u
	}
	return f
}

func (f *fakeUserRepo) GetUser(_ context.Context, _ *gorm.DB, userID int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) CreateUser(_ context.Context, _ *gorm.DB, userID int64, userName, account string, registered bool) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &domain.User{UserID: userID, UserName: userName, Account: account, Registered: registered}
	f.users[userID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) SetRegistered(_ context.Context, _ *gorm.DB, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setRegisteredErr != nil {
		return f.setRegisteredErr
	}
	if u, ok := f.users[userID]; ok {
		u.Registered = true
	}
	return nil
}

func (f *fakeUserRepo) registered(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	return ok && u.Registered
}

// ---- fake member repo ----

type fakeMemberRepo struct {
	mu      sync.Mutex
	members map[string]*domain.ChatMember
}

func memberKey(chatID int64, name string) string {
	return fmt.Sprintf("%d/%s", chatID, name)
}

func newFakeMemberRepo(members ...*domain.ChatMember) *fakeMemberRepo {
	f := &fakeMemberRepo{members: make(map[string]*domain.ChatMember)}
	for _, m := range members {
		f.members[memberKey(m.ChatID, m.MemberName)] = m
	}
	return f
}

func (f *fakeMemberRepo) GetMemberByName(_ context.Context, _ *gorm.DB, chatID int64, memberName string) (*domain.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey(chatID, memberName)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMemberRepo) UpsertMember(_ context.Context, _ *gorm.DB, chatID int64, chatName string, memberID int64, memberName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[memberKey(chatID, memberName)] = &domain.ChatMember{
		ChatID: chatID, ChatName: chatName, MemberID: memberID, MemberName: memberName,
	}
	return nil
}

func (f *fakeMemberRepo) RemoveMember(_ context.Context, _ *gorm.DB, chatID, memberID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, m := range f.members {
		if m.ChatID == chatID && m.MemberID == memberID {
			delete(f.members, k)
		}
	}
	return nil
}

// ---- fake tip repo ----

type fakeTipRepo struct {
	mu   sync.Mutex
	tips map[string]*domain.Tip

	// createErr, when set, fails every CreateTip after the first failAfter
	// successful inserts.
	createErr error
	failAfter int
}

func newFakeTipRepo() *fakeTipRepo {
	return &fakeTipRepo{tips: make(map[string]*domain.Tip)}
}

func (f *fakeTipRepo) CreateTip(_ context.Context, _ *gorm.DB, tip *domain.Tip) (*domain.Tip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil && len(f.tips) >= f.failAfter {
		return nil, f.createErr
	}
	if _, ok := f.tips[tip.TipID]; ok {
		return nil, repo.ErrDuplicate
	}
	cp := *tip
	f.tips[tip.TipID] = &cp
	return tip, nil
}

func (f *fakeTipRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tips)
}

// ---- fake ledger ----

type sendCall struct {
	source, dest string
	rawAmount    int64
	work, id     string
}

type fakeLedger struct {
	mu sync.Mutex

	balances  map[string]int64
	pending   map[string][]string
	frontiers map[string]string
	invalid   map[string]bool

	sends    []sendCall
	receives []string
	createdN int

	pendingErr error
	sendErr    error
	balanceErr error
	createErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:  make(map[string]int64),
		pending:   make(map[string][]string),
		frontiers: make(map[string]string),
		invalid:   make(map[string]bool),
	}
}

func (f *fakeLedger) Pending(_ context.Context, addr string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	return append([]string(nil), f.pending[addr]...), nil
}

func (f *fakeLedger) Frontier(_ context.Context, addr string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frontiers[addr], nil
}

func (f *fakeLedger) GenerateWork(_ context.Context, blockHash string) (string, error) {
	return "work-" + blockHash, nil
}

func (f *fakeLedger) Send(_ context.Context, source, dest string, rawAmount int64, work, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends = append(f.sends, sendCall{source: source, dest: dest, rawAmount: rawAmount, work: work, id: id})
	return fmt.Sprintf("hash-%d", len(f.sends)), nil
}

func (f *fakeLedger) Receive(_ context.Context, addr, blockHash, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receives = append(f.receives, blockHash)
	// The swept amount shows up in the confirmed balance; tests preload
	// balances with the post-sweep value, so just clear the pending list.
	rest := f.pending[addr][:0]
	for _, b := range f.pending[addr] {
		if b != blockHash {
			rest = append(rest, b)
		}
	}
	f.pending[addr] = rest
	return nil
}

func (f *fakeLedger) AccountCreate(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.createdN++
	return fmt.Sprintf("usd_new%d", f.createdN), nil
}

func (f *fakeLedger) AccountBalance(_ context.Context, addr string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balances[addr], nil
}

func (f *fakeLedger) ValidateAddress(_ context.Context, addr string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid[addr], nil
}

func (f *fakeLedger) sentCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

// ---- fake notifier ----

type notice struct {
	to   int64
	text string
}

type fakeNotifier struct {
	mu    sync.Mutex
	dms   []notice
	chats []notice

	failDM error
}

func (f *fakeNotifier) SendDM(_ context.Context, userID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDM != nil {
		return f.failDM
	}
	f.dms = append(f.dms, notice{to: userID, text: text})
	return nil
}

func (f *fakeNotifier) SendChat(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, notice{to: chatID, text: text})
	return nil
}

func (f *fakeNotifier) dmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dms)
}

func (f *fakeNotifier) lastDM() (notice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dms) == 0 {
		return notice{}, false
	}
	return f.dms[len(f.dms)-1], true
}

func (f *fakeNotifier) lastChat() (notice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chats) == 0 {
		return notice{}, false
	}
	return f.chats[len(f.chats)-1], true
}
