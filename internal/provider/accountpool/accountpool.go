// Package accountpool implements a Redis-backed round-robin pool of
// provider accounts (OAuth tokens or API keys) with cooldown marking, for
// providers that require rotating among several credentials to spread load
// (spec.md §4.4's account-pool concern for subprocess CLI adapters).
//
// The entry/expiry shape (a struct with an expiresAt used to decide
// liveness) is grounded on runtime/registry/cache.go's MemoryCache
// cacheEntry idiom; the shared-state backing store is go-redis, used the
// way registry/registry.go wires *redis.Client into the teacher's registry
// service.
package accountpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Account is one credential entry in the pool.
type Account struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Token string `json:"token"`
}

// ErrNoAccountsAvailable is returned when every account in the pool is
// currently cooling down.
var ErrNoAccountsAvailable = errors.New("accountpool: no accounts available")

// Pool hands out accounts in round-robin order, skipping any account still
// within its cooldown window after a prior failure.
type Pool struct {
	rdb    *redis.Client
	key    string // base key namespace, e.g. "accountpool:anthropic"
	cursor string // key holding the round-robin cursor
}

// New constructs a Pool namespaced under key using rdb for shared state.
func New(rdb *redis.Client, key string) *Pool {
	return &Pool{rdb: rdb, key: key, cursor: key + ":cursor"}
}

// Seed registers the pool's account set, replacing any prior membership.
func (p *Pool) Seed(ctx context.Context, accounts []Account) error {
	pipe := p.rdb.TxPipeline()
	pipe.Del(ctx, p.membersKey())
	for _, a := range accounts {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("accountpool: marshal account %s: %w", a.ID, err)
		}
		pipe.RPush(ctx, p.membersKey(), raw)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Next returns the next non-cooling-down account in round-robin order.
func (p *Pool) Next(ctx context.Context) (Account, error) {
	raws, err := p.rdb.LRange(ctx, p.membersKey(), 0, -1).Result()
	if err != nil {
		return Account{}, fmt.Errorf("accountpool: list accounts: %w", err)
	}
	if len(raws) == 0 {
		return Account{}, ErrNoAccountsAvailable
	}

	start, err := p.rdb.Incr(ctx, p.cursor).Result()
	if err != nil {
		return Account{}, fmt.Errorf("accountpool: advance cursor: %w", err)
	}

	for i := 0; i < len(raws); i++ {
		idx := (int(start) + i) % len(raws)
		var acct Account
		if err := json.Unmarshal([]byte(raws[idx]), &acct); err != nil {
			continue
		}
		cooling, err := p.rdb.Exists(ctx, p.cooldownKey(acct.ID)).Result()
		if err != nil {
			return Account{}, fmt.Errorf("accountpool: check cooldown: %w", err)
		}
		if cooling == 0 {
			return acct, nil
		}
	}
	return Account{}, ErrNoAccountsAvailable
}

// MarkCooldown takes an account out of rotation for d, typically after a
// rate-limit or transient failure signal from that account's provider call.
func (p *Pool) MarkCooldown(ctx context.Context, accountID string, d time.Duration) error {
	return p.rdb.Set(ctx, p.cooldownKey(accountID), time.Now().Add(d).Format(time.RFC3339), d).Err()
}

func (p *Pool) membersKey() string        { return p.key + ":members" }
func (p *Pool) cooldownKey(id string) string { return p.key + ":cooldown:" + id }
