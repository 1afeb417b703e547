package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/stellar/go/keypair"
)

// Account is a source account with a locally tracked sequence number.
// Transaction builds against one account are serialized by its mutex, so
// sequence numbers are consumed monotonically with no gaps introduced on our
// side. Signing keys live only here; they are resolved once at startup and
// never logged.
type Account struct {
	mu     sync.Mutex
	kp     *keypair.Full
	seq    int64
	loaded bool
}

// NewAccount builds an Account from a signing seed. When publicKey is
// non-empty it must match the seed's address.
func NewAccount(publicKey, seed string) (*Account, error) {
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}
	if publicKey != "" && kp.Address() != publicKey {
		return nil, fmt.Errorf("signing key does not match public key %s", publicKey)
	}
	return &Account{kp: kp}, nil
}

// Address returns the account's public key.
func (a *Account) Address() string {
	return a.kp.Address()
}

// Invalidate drops the cached sequence so the next build reloads it from
// Horizon. Called after a permanent rejection, where the on-chain sequence
// may have diverged from the local cache.
func (a *Account) Invalidate() {
	a.mu.Lock()
	a.seq = 0
	a.loaded = false
	a.mu.Unlock()
}

// AccountFor deterministically selects a source account from the pool based
// on the first fingerprint byte, spreading load while preserving per-account
// ordering.
func (c *Client) AccountFor(fp []byte) *Account {
	if len(fp) == 0 {
		return c.accounts[0]
	}
	return c.accounts[int(fp[0])%len(c.accounts)]
}

// Accounts returns the configured source account pool.
func (c *Client) Accounts() []*Account {
	return c.accounts
}

// reserve returns the account's current sequence number for a transaction
// build and advances the local cache, loading from Horizon on first use.
// The caller must already hold a.mu.
func (c *Client) reserve(ctx context.Context, a *Account) (int64, error) {
	if !a.loaded {
		seq, err := c.LoadAccount(ctx, a.kp.Address())
		if err != nil {
			return 0, err
		}
		a.seq = seq
		a.loaded = true
	}
	base := a.seq
	a.seq++
	return base, nil
}
