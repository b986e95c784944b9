package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// CurrencyRepository resolves tickers against the currencies table, caching
// hits in memory since a Currency is immutable once created.
type CurrencyRepository struct {
	db  *sql.DB
	log zerolog.Logger

	mu    sync.RWMutex
	cache map[string]domain.Currency
}

func NewCurrencyRepository(db *sql.DB, log zerolog.Logger) *CurrencyRepository {
	return &CurrencyRepository{
		db:    db,
		log:   log.With().Str("repository", "currency").Logger(),
		cache: make(map[string]domain.Currency),
	}
}

func (r *CurrencyRepository) FindByTicker(ctx context.Context, ticker string) (domain.Currency, bool, error) {
	r.mu.RLock()
	if c, ok := r.cache[ticker]; ok {
		r.mu.RUnlock()
		return c, true, nil
	}
	r.mu.RUnlock()

	var c domain.Currency
	var isNative int
	err := r.db.QueryRowContext(ctx, `
		SELECT ticker, display_name, decimals, asset_class, network, contract_address, is_native
		FROM currencies WHERE ticker = ?
	`, ticker).Scan(&c.Ticker, &c.DisplayName, &c.Decimals, &c.AssetClass, &c.Network, &c.ContractAddress, &isNative)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Currency{}, false, nil
	}
	if err != nil {
		return domain.Currency{}, false, fmt.Errorf("find currency %s: %w", ticker, err)
	}
	c.IsNative = isNative != 0

	r.mu.Lock()
	r.cache[ticker] = c
	r.mu.Unlock()

	return c, true, nil
}

// Upsert registers or updates a currency's metadata. Not part of the
// repository port (callers never need to mutate currencies mid-import) but
// used by seed/bootstrap code and tests to populate the table.
func (r *CurrencyRepository) Upsert(ctx context.Context, c domain.Currency) error {
	isNative := 0
	if c.IsNative {
		isNative = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO currencies (ticker, display_name, decimals, asset_class, network, contract_address, is_native)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			display_name = excluded.display_name,
			decimals = excluded.decimals,
			asset_class = excluded.asset_class,
			network = excluded.network,
			contract_address = excluded.contract_address,
			is_native = excluded.is_native
	`, c.Ticker, c.DisplayName, c.Decimals, c.AssetClass, c.Network, c.ContractAddress, isNative)
	if err != nil {
		return fmt.Errorf("upsert currency %s: %w", c.Ticker, err)
	}

	r.mu.Lock()
	r.cache[c.Ticker] = c
	r.mu.Unlock()
	return nil
}
