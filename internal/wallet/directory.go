// Package wallet maps usernames to wallet addresses. The mapping is a
// process-local cache in front of the accounts table, which stays
// authoritative.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/metrics"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// ErrWalletNotFound indicates neither the cache nor the accounts table knows
// a wallet for the user.
var ErrWalletNotFound = errors.New("wallet not found")

// TableReader reads a decoded table.
type TableReader interface {
	Read(ctx context.Context, t store.Table) (store.Snapshot, error)
}

// Directory resolves wallets by username.
type Directory struct {
	cache    *cache.Cache
	reader   TableReader
	accounts store.Table
	logger   *slog.Logger
}

// NewDirectory creates an empty directory backed by the accounts table.
func NewDirectory(reader TableReader, accounts store.Table) *Directory {
	return &Directory{
		cache:    cache.New(cache.NoExpiration, 0),
		reader:   reader,
		accounts: accounts,
		logger:   logging.Component("wallet"),
	}
}

// Get returns the cached wallet for username.
func (d *Directory) Get(username string) (string, bool) {
	v, ok := d.cache.Get(username)
	if !ok {
		return "", false
	}
	addr, ok := v.(string)
	return addr, ok && addr != ""
}

// Set caches the wallet for username. Empty addresses are ignored.
func (d *Directory) Set(username, address string) {
	address = strings.TrimSpace(address)
	if username == "" || address == "" {
		return
	}
	d.cache.Set(username, address, cache.NoExpiration)
}

// Forget drops username from the cache.
func (d *Directory) Forget(username string) {
	d.cache.Delete(username)
}

// Len returns the number of cached wallets.
func (d *Directory) Len() int {
	return d.cache.ItemCount()
}

// Resolve returns the wallet for username, scanning the accounts table on a
// cache miss and caching what it finds.
func (d *Directory) Resolve(ctx context.Context, username string) (string, error) {
	if addr, ok := d.Get(username); ok {
		countLookup("hit")
		return addr, nil
	}

	snap, err := d.reader.Read(ctx, d.accounts)
	if err != nil {
		return "", fmt.Errorf("resolve wallet for %s: %w", username, err)
	}

	row, _, ok := codec.FindFirst(snap.Rows, func(r codec.Row) bool {
		return r.Field(codec.AccountUsername) == username
	})
	if !ok {
		countLookup("miss")
		return "", fmt.Errorf("%w: unknown user %s", ErrWalletNotFound, username)
	}

	addr := strings.TrimSpace(row.Field(codec.AccountWallet))
	if addr == "" {
		countLookup("miss")
		return "", fmt.Errorf("%w: %s has no wallet on record", ErrWalletNotFound, username)
	}

	d.Set(username, addr)
	countLookup("fallback")
	d.logger.Debug("wallet loaded from accounts table", "username", username)
	return addr, nil
}

// Preload caches every wallet in the accounts table and returns how many
// were cached.
func (d *Directory) Preload(ctx context.Context) (int, error) {
	snap, err := d.reader.Read(ctx, d.accounts)
	if err != nil {
		return 0, fmt.Errorf("preload wallets: %w", err)
	}

	n := 0
	for _, row := range snap.Rows {
		addr := strings.TrimSpace(row.Field(codec.AccountWallet))
		if addr == "" {
			continue
		}
		d.Set(row.Field(codec.AccountUsername), addr)
		n++
	}
	d.logger.Info("wallet directory preloaded", "wallets", n)
	return n, nil
}

func countLookup(result string) {
	if m := metrics.Get(); m != nil {
		m.IncWalletLookups(metrics.Labels{Result: result})
	}
}
