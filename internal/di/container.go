// Package di wires every concrete component (providers, importers, mappers,
// processors, the transformer, repositories, the pipeline orchestrator and
// the linking engine) into running pipelines. Everything long-lived is
// built once here; nothing else constructs repositories or managers.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/circuitbreaker"
	"github.com/jbelanger/exitbook-sub001/internal/config"
	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/importers"
	"github.com/jbelanger/exitbook-sub001/internal/importers/address"
	"github.com/jbelanger/exitbook-sub001/internal/importers/csv"
	"github.com/jbelanger/exitbook-sub001/internal/importers/exchangeapi"
	"github.com/jbelanger/exitbook-sub001/internal/importers/xpub"
	"github.com/jbelanger/exitbook-sub001/internal/ledger"
	"github.com/jbelanger/exitbook-sub001/internal/ledger/transform"
	"github.com/jbelanger/exitbook-sub001/internal/linking"
	"github.com/jbelanger/exitbook-sub001/internal/pipeline"
	"github.com/jbelanger/exitbook-sub001/internal/processors"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
	"github.com/jbelanger/exitbook-sub001/internal/providers/bitcoin/blockstream"
	"github.com/jbelanger/exitbook-sub001/internal/providers/ethereum/etherscan"
	"github.com/jbelanger/exitbook-sub001/internal/providers/kraken"
	"github.com/jbelanger/exitbook-sub001/internal/providers/manager"
	"github.com/jbelanger/exitbook-sub001/internal/ratelimit"
	"github.com/jbelanger/exitbook-sub001/internal/repository/sqlite"
)

// Container holds every long-lived, process-wide component. Built once at
// startup by New, then used to construct one Orchestrator per import run.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	DB *sqlite.DB

	Currencies     *sqlite.CurrencyRepository
	Accounts       *sqlite.AccountRepository
	Transactions   *sqlite.TransactionRepository
	Sessions       *sqlite.SessionRepository
	Cursors        *sqlite.CursorRepository
	RawData        *sqlite.RawDataRepository
	Links          *sqlite.LinkRepository
	LinkCandidates *sqlite.LinkCandidateRepository
	Queries        *sqlite.LedgerQueryRepository

	Registry *providers.Registry
	managers map[string]*manager.Manager

	Ledger  *ledger.Service
	Linking *linking.Engine
}

// registerDescriptors adds every known provider to registry. Called once
// during New; registering a new blockchain's providers elsewhere would
// require touching this one line, not the pipeline or importer packages.
func registerDescriptors(registry *providers.Registry) {
	registry.Register(blockstream.Descriptor())
	registry.Register(etherscan.Descriptor())
	registry.Register(kraken.ClientDescriptor())
}

// BuildRegistry returns a fresh provider registry with every known
// descriptor registered. Exposed separately from New so cmd/importer can
// validate its provider config file (config.Load) before the rest of the
// Container is constructed.
func BuildRegistry() *providers.Registry {
	registry := providers.NewRegistry()
	registerDescriptors(registry)
	return registry
}

// New constructs a fully wired Container from cfg. It opens the database,
// builds every repository, registers provider descriptors, and builds one
// provider Manager per blockchain that has configured providers.
func New(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := sqlite.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("di: open database: %w", err)
	}

	currencies := sqlite.NewCurrencyRepository(db.Conn(), log)
	accounts := sqlite.NewAccountRepository(db.Conn(), log)
	transactions := sqlite.NewTransactionRepository(db.Conn(), accounts, currencies, log)
	sessions := sqlite.NewSessionRepository(db.Conn(), log)
	cursors := sqlite.NewCursorRepository(db.Conn(), log)
	rawData := sqlite.NewRawDataRepository(db.Conn(), log)
	links := sqlite.NewLinkRepository(db.Conn(), log)
	linkCandidates := sqlite.NewLinkCandidateRepository(db.Conn(), log)
	queries := sqlite.NewLedgerQueryRepository(db.Conn(), log)

	registry := BuildRegistry()

	c := &Container{
		Config: cfg, Log: log, DB: db,
		Currencies: currencies, Accounts: accounts, Transactions: transactions,
		Sessions: sessions, Cursors: cursors, RawData: rawData, Links: links,
		LinkCandidates: linkCandidates, Queries: queries,
		Registry: registry,
		managers: make(map[string]*manager.Manager),
		Ledger:   ledger.New(transactions, queries, accounts, sessions, log),
		Linking:  linking.New(links, log),
	}

	for blockchain, configs := range cfg.Providers {
		m, err := c.buildManager(blockchain, configs)
		if err != nil {
			return nil, fmt.Errorf("di: build manager for %s: %w", blockchain, err)
		}
		c.managers[blockchain] = m
	}

	return c, nil
}

// buildManager constructs one blockchain's provider Manager from its
// configured provider list, merging each descriptor's defaults with any
// override the config file supplied.
func (c *Container) buildManager(blockchain string, configs []providers.ProviderConfig) (*manager.Manager, error) {
	m := manager.New(blockchain, c.Log)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		descriptor, ok := c.Registry.GetMetadata(blockchain, cfg.Name)
		if !ok {
			return nil, fmt.Errorf("unregistered provider %s/%s", blockchain, cfg.Name)
		}

		merged := cfg
		if merged.Timeout == 0 {
			merged.Timeout = descriptor.Default.Timeout
		}
		if merged.Retries == 0 {
			merged.Retries = descriptor.Default.Retries
		}
		limits := descriptor.Default.RateLimit
		if cfg.RateLimit.PerSecond > 0 {
			limits = cfg.RateLimit
		}

		client, err := descriptor.New(merged, c.Log)
		if err != nil {
			return nil, fmt.Errorf("construct provider %s: %w", cfg.Name, err)
		}

		m.AddProvider(cfg.Name, cfg.Priority, client, descriptor.Capabilities,
			ratelimit.Limits{PerSecond: limits.PerSecond, PerMinute: limits.PerMinute, PerHour: limits.PerHour, Burst: limits.Burst},
			circuitbreaker.DefaultConfig())
	}
	return m, nil
}

// mapperRegistry resolves raw-record normalization by provider id. Every
// new provider's mapper gets one more case here; nothing downstream (the
// pipeline orchestrator) changes when a provider is added.
func mapperRegistry(walletAddress string) func(providerID string) (pipeline.Mapper, bool) {
	return func(providerID string) (pipeline.Mapper, bool) {
		switch providerID {
		case blockstream.Name:
			sc := blockstream.SessionContext{WalletAddresses: map[string]bool{walletAddress: true}}
			return func(payload map[string]any) (domain.NormalizedRecord, error) {
				return blockstream.MapTransaction(payload, sc)
			}, true
		case etherscan.Name:
			sc := etherscan.SessionContext{WalletAddress: walletAddress}
			return func(payload map[string]any) (domain.NormalizedRecord, error) {
				return etherscan.MapTransaction(payload, sc)
			}, true
		case "kraken", "csv":
			return func(payload map[string]any) (domain.NormalizedRecord, error) {
				return kraken.MapTransaction(payload, providerID)
			}, true
		default:
			return nil, false
		}
	}
}

// xpubMapperRegistry is mapperRegistry's multi-address counterpart: an xpub
// scan fetches several derived addresses in one run, so the blockstream
// mapper's SessionContext needs the full set rather than a single address.
// wallets is populated by the xpub ImporterFunc closure before the
// orchestrator's normalize phase calls this registry (Run completes fully
// before any mapper runs, see pipeline.Orchestrator.RunImport).
func xpubMapperRegistry(wallets map[string]bool) func(providerID string) (pipeline.Mapper, bool) {
	return func(providerID string) (pipeline.Mapper, bool) {
		if providerID != blockstream.Name {
			return nil, false
		}
		sc := blockstream.SessionContext{WalletAddresses: wallets}
		return func(payload map[string]any) (domain.NormalizedRecord, error) {
			return blockstream.MapTransaction(payload, sc)
		}, true
	}
}

// NewAddressPipeline builds an Orchestrator for a single blockchain address
// import: one run fetches addr's activity through the
// blockchain's configured provider pool and ledgerizes the result.
func (c *Container) NewAddressPipeline(blockchain, addr, sourceID string, strict bool) (*pipeline.Orchestrator, error) {
	m, ok := c.managers[blockchain]
	if !ok {
		return nil, fmt.Errorf("di: no provider manager configured for blockchain %s", blockchain)
	}
	imp := address.New(blockchain, m, c.Log)
	importerFn := pipeline.ImporterFunc(func(ctx context.Context) (importers.Result, error) {
		return imp.Run(ctx, addr, address.Operations)
	})

	proc := processors.New(processors.ByCorrelationID{}, processors.BlockchainTransferInterpretation{})
	tr := transform.New(c.Currencies, sourceID)

	return pipeline.New(
		importerFn, mapperRegistry(addr), proc, tr,
		c.Sessions, c.Cursors, c.RawData, c.Transactions,
		sourceID, domain.SourceTypeBlockchainAddr, blockchain, pipeline.Policy{Strict: strict}, c.Log,
	), nil
}

// NewXpubPipeline builds an Orchestrator for a blockchain xpub import:
// addresses are derived from xpubStr via gap-limit
// scanning and fetched through the same provider pool as a single-address
// import. Xpub derivation is only meaningful for UTXO chains, so this only
// supports blockchains whose mapper accepts a wallet-address set
// (blockstream today; an HD-derived etherscan xpub is not a real scenario
// since ethereum addresses are not conventionally derived this way).
func (c *Container) NewXpubPipeline(blockchain, xpubStr, sourceID string, strict bool) (*pipeline.Orchestrator, error) {
	m, ok := c.managers[blockchain]
	if !ok {
		return nil, fmt.Errorf("di: no provider manager configured for blockchain %s", blockchain)
	}
	imp := xpub.New(blockchain, m, xpub.NewMemoryCache(), c.Log)

	wallets := make(map[string]bool)
	importerFn := pipeline.ImporterFunc(func(ctx context.Context) (importers.Result, error) {
		result, err := imp.Run(ctx, xpubStr)
		for _, rec := range result.Records {
			if rec.FetchedByAddress != "" {
				wallets[rec.FetchedByAddress] = true
			}
		}
		return result, err
	})

	proc := processors.New(processors.ByCorrelationID{}, processors.BlockchainTransferInterpretation{})
	tr := transform.New(c.Currencies, sourceID)

	return pipeline.New(
		importerFn, xpubMapperRegistry(wallets), proc, tr,
		c.Sessions, c.Cursors, c.RawData, c.Transactions,
		sourceID, domain.SourceTypeBlockchainXpub, blockchain, pipeline.Policy{Strict: strict}, c.Log,
	), nil
}

// NewExchangeAPIPipeline builds an Orchestrator for an authenticated
// exchange API import. The resume cursor for
// (userID, exchange, getLedgerEntries) is loaded when the importer runs, so
// re-running the same job continues from the last persisted page offset.
func (c *Container) NewExchangeAPIPipeline(exchange, sourceID, userID string, since, until *time.Time, strict bool) (*pipeline.Orchestrator, error) {
	m, ok := c.managers[exchange]
	if !ok {
		return nil, fmt.Errorf("di: no provider manager configured for exchange %s", exchange)
	}
	imp := exchangeapi.New(exchange, m, c.Log)
	importerFn := pipeline.ImporterFunc(func(ctx context.Context) (importers.Result, error) {
		var resume *domain.ProviderCursor
		if cursor, found, err := c.Cursors.Load(ctx, userID, sourceID, exchange, string(providers.OpGetLedgerEntries), ""); err != nil {
			return importers.Result{}, fmt.Errorf("di: load resume cursor: %w", err)
		} else if found {
			resume = &cursor
		}
		return imp.Run(ctx, since, until, resume)
	})

	proc := processors.New(processors.ByCorrelationID{}, processors.KrakenLedgerInterpretation{})
	tr := transform.New(c.Currencies, sourceID)

	return pipeline.New(
		importerFn, mapperRegistry(""), proc, tr,
		c.Sessions, c.Cursors, c.RawData, c.Transactions,
		sourceID, domain.SourceTypeExchangeAPI, exchange, pipeline.Policy{Strict: strict}, c.Log,
	), nil
}

// NewCSVPipeline builds an Orchestrator for an exchange CSV import: every
// row under dir is read, mapped by the generic
// signed-ledger-row mapper, and ledgerized.
func (c *Container) NewCSVPipeline(dir, providerID, sourceID string, strict bool) *pipeline.Orchestrator {
	imp := csv.New(dir, c.Log)
	importerFn := pipeline.ImporterFunc(func(ctx context.Context) (importers.Result, error) {
		return imp.Run()
	})

	proc := processors.New(processors.ByCorrelationID{}, processors.KrakenLedgerInterpretation{})
	tr := transform.New(c.Currencies, sourceID)

	return pipeline.New(
		importerFn, mapperRegistry(""), proc, tr,
		c.Sessions, c.Cursors, c.RawData, c.Transactions,
		sourceID, domain.SourceTypeExchangeCSV, providerID, pipeline.Policy{Strict: strict}, c.Log,
	)
}

// ProviderHealth implements the GetProviderHealth query across every
// configured blockchain, for cmd/importer's health endpoint.
func (c *Container) ProviderHealth() map[string]manager.Statistics {
	out := make(map[string]manager.Statistics, len(c.managers))
	for blockchain, m := range c.managers {
		out[blockchain] = m.Statistics()
	}
	return out
}

// RunLinking runs the post-ingest correlation pass for userID over every
// entry posted at or after since, persisting and returning the suggestions.
func (c *Container) RunLinking(ctx context.Context, userID string, since time.Time) ([]linking.Suggestion, error) {
	views, err := c.LinkCandidates.ListSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("di: list link candidates: %w", err)
	}
	return c.Linking.Run(ctx, userID, linking.CandidatesFromDomain(views))
}
