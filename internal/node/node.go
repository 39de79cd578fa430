// Package node is a typed façade over the NOLLAR ledger node's JSON-over-HTTP
// "action" RPC. It exposes exactly the operations the settlement engine
// needs: pending-block listing, frontier lookup, proof-of-work generation,
// transfer submission, account creation, balance query, and address
// validation. All methods are context-aware; the node itself provides no
// authentication, so access control is a deployment concern (bind it to
// localhost or a private network).
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Errors returned by the gateway. Callers branch on these with errors.Is.
var (
	// ErrTransient marks a transport-level failure: the node was
	// unreachable or returned garbage. The request may succeed if retried.
	ErrTransient = errors.New("ledger node unreachable")

	// ErrRejected marks a request the node received and refused. Retrying
	// the identical request will not help.
	ErrRejected = errors.New("ledger node rejected request")
)

// Ledger is the gateway contract consumed by the service layer. Client is
// the production implementation; tests substitute fakes.
type Ledger interface {
	// Pending lists the hashes of incoming blocks not yet swept into addr's
	// confirmed balance.
	Pending(ctx context.Context, addr string) ([]string, error)

	// Frontier returns the hash of addr's head block, or "" (and no error)
	// when the account has no history yet. A fresh account has no frontier
	// and therefore needs no proof-of-work to submit its first block.
	Frontier(ctx context.Context, addr string) (string, error)

	// GenerateWork computes a proof-of-work token for the given block hash.
	// It blocks, retrying on every transient failure, and returns only on
	// success or context cancellation. There is no fallback path for a
	// transfer without work, so node-side generation failure is treated as
	// recoverable-by-retry; bound it with a context deadline in production.
	GenerateWork(ctx context.Context, blockHash string) (string, error)

	// Send submits a transfer of rawAmount from source to dest. work may be
	// empty when the source has no frontier yet. id is the caller's
	// idempotency identifier, forwarded so the node deduplicates resubmits.
	Send(ctx context.Context, source, dest string, rawAmount int64, work, id string) (string, error)

	// Receive sweeps one pending block into addr. work may be empty.
	Receive(ctx context.Context, addr, blockHash, work string) error

	// AccountCreate allocates a fresh address under the custodial wallet.
	AccountCreate(ctx context.Context) (string, error)

	// AccountBalance returns addr's confirmed balance in raw units.
	AccountBalance(ctx context.Context, addr string) (int64, error)

	// ValidateAddress reports whether addr is a well-formed ledger address.
	ValidateAddress(ctx context.Context, addr string) (bool, error)
}

// Client implements Ledger against a live node.
type Client struct {
	baseURL     string
	wallet      string
	http        *http.Client
	workBackoff time.Duration
	log         zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom timeouts).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithWorkBackoff sets the delay between proof-of-work retry attempts.
func WithWorkBackoff(d time.Duration) Option {
	return func(c *Client) { c.workBackoff = d }
}

// WithLogger attaches a logger for retry and submission diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a Client for the node at baseURL, signing wallet-scoped actions
// with the given custodial wallet id.
func New(baseURL, wallet string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		wallet:  wallet,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		workBackoff: 2 * time.Second,
		log:         zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// call posts one action envelope and decodes the response into out. The node
// signals refusal through an "error" field in an otherwise 200 response, so
// every reply is sniffed for it before decoding the result.
func (c *Client) call(ctx context.Context, action string, params map[string]any, out any) error {
	payload := map[string]any{"action": action}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransient, action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", ErrTransient, action, resp.StatusCode)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrTransient, action, err)
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("%w: %s: %s", ErrRejected, action, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %s: decode result: %v", ErrTransient, action, err)
		}
	}
	return nil
}

// Pending implements Ledger.
func (c *Client) Pending(ctx context.Context, addr string) ([]string, error) {
	var result struct {
		Blocks []string `json:"blocks"`
	}
	err := c.call(ctx, "pending", map[string]any{"account": addr}, &result)
	if err != nil {
		return nil, err
	}
	return result.Blocks, nil
}

// Frontier implements Ledger. A node error mentioning the account is treated
// as "no history yet" rather than a failure, matching the semantics callers
// rely on: no frontier means the first block needs no prior-work token.
func (c *Client) Frontier(ctx context.Context, addr string) (string, error) {
	var result struct {
		Frontiers map[string]string `json:"frontiers"`
	}
	err := c.call(ctx, "accounts_frontiers", map[string]any{"accounts": []string{addr}}, &result)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return "", nil
		}
		return "", err
	}
	return result.Frontiers[addr], nil
}

// GenerateWork implements Ledger. It loops until the node produces a work
// token, sleeping workBackoff between attempts, and gives up only when ctx
// is cancelled.
func (c *Client) GenerateWork(ctx context.Context, blockHash string) (string, error) {
	var result struct {
		Work string `json:"work"`
	}
	for attempt := 1; ; attempt++ {
		err := c.call(ctx, "work_generate", map[string]any{"hash": blockHash}, &result)
		if err == nil && result.Work != "" {
			return result.Work, nil
		}
		c.log.Warn().
			Err(err).
			Str("hash", blockHash).
			Int("attempt", attempt).
			Msg("work generation failed, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.workBackoff):
		}
	}
}

// Send implements Ledger.
func (c *Client) Send(ctx context.Context, source, dest string, rawAmount int64, work, id string) (string, error) {
	params := map[string]any{
		"wallet":      c.wallet,
		"source":      source,
		"destination": dest,
		"amount":      strconv.FormatInt(rawAmount, 10),
	}
	if id != "" {
		params["id"] = "tip-" + id
	}
	if work != "" {
		params["work"] = work
	}
	var result struct {
		Block string `json:"block"`
	}
	if err := c.call(ctx, "send", params, &result); err != nil {
		return "", err
	}
	return result.Block, nil
}

// Receive implements Ledger.
func (c *Client) Receive(ctx context.Context, addr, blockHash, work string) error {
	params := map[string]any{
		"wallet":  c.wallet,
		"account": addr,
		"block":   blockHash,
	}
	if work != "" {
		params["work"] = work
	}
	return c.call(ctx, "receive", params, nil)
}

// AccountCreate implements Ledger.
func (c *Client) AccountCreate(ctx context.Context) (string, error) {
	var result struct {
		Account string `json:"account"`
	}
	err := c.call(ctx, "account_create", map[string]any{"wallet": c.wallet}, &result)
	if err != nil {
		return "", err
	}
	return result.Account, nil
}

// AccountBalance implements Ledger. The node reports raw amounts as decimal
// strings; anything unparsable is a transport-level fault.
func (c *Client) AccountBalance(ctx context.Context, addr string) (int64, error) {
	var result struct {
		Balance string `json:"balance"`
	}
	if err := c.call(ctx, "account_balance", map[string]any{"account": addr}, &result); err != nil {
		return 0, err
	}
	raw, err := strconv.ParseInt(result.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: account_balance: bad balance %q", ErrTransient, result.Balance)
	}
	return raw, nil
}

// ValidateAddress implements Ledger.
func (c *Client) ValidateAddress(ctx context.Context, addr string) (bool, error) {
	var result struct {
		Valid string `json:"valid"`
	}
	if err := c.call(ctx, "validate_account_number", map[string]any{"account": addr}, &result); err != nil {
		return false, err
	}
	return result.Valid == "1", nil
}
