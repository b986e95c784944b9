// Command importer is the process entrypoint: it loads configuration, wires
// the DI container, runs the configured import jobs once or on a cron
// schedule, and serves a minimal health endpoint (logger -> config -> db ->
// scheduler -> jobs -> serve -> graceful shutdown on signal).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/config"
	"github.com/jbelanger/exitbook-sub001/internal/di"
	"github.com/jbelanger/exitbook-sub001/internal/pipeline"
	"github.com/jbelanger/exitbook-sub001/internal/scheduler"
	"github.com/jbelanger/exitbook-sub001/pkg/logger"
)

func main() {
	providersConfigPath := flag.String("providers-config", "", "path to the provider priority JSON config")
	jobsConfigPath := flag.String("jobs-config", "", "path to the import jobs JSON config")
	resyncCron := flag.String("resync-cron", os.Getenv("RESYNC_CRON"), "cron schedule for periodic resync (empty disables)")
	healthAddr := flag.String("health-addr", ":8090", "address to serve the health endpoint on")
	once := flag.Bool("once", false, "run every configured job once and exit, instead of serving/scheduling")
	flag.Parse()

	log := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Pretty: true})
	log.Info().Msg("starting importer")

	registry := di.BuildRegistry()
	cfg, err := config.Load(*providersConfigPath, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	container, err := di.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build container")
	}
	defer container.DB.Close()

	jobs, err := loadJobs(*jobsConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load import jobs")
	}

	runner := &jobRunner{container: container, jobs: jobs, log: log}

	runner.runAll(context.Background())
	if *once {
		return
	}

	sched := scheduler.New(log)
	if *resyncCron != "" {
		if err := sched.AddJob(*resyncCron, runner); err != nil {
			log.Fatal().Err(err).Msg("failed to register resync job")
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{Addr: *healthAddr, Handler: healthRouter(container)}
	go func() {
		log.Info().Str("addr", *healthAddr).Msg("health endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("health server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}
}

// healthRouter exposes process liveness and per-blockchain provider
// health across however many blockchains are configured.
func healthRouter(container *di.Container) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/providers", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(container.ProviderHealth())
	})
	return r
}

// job describes one configured import to run: a blockchain address sync, an
// xpub gap-limit scan, an exchange CSV ingest, or an authenticated exchange
// API sync.
type job struct {
	Type       string `json:"type"` // "address", "xpub", "csv" or "exchangeapi"
	UserID     string `json:"userId"`
	SourceID   string `json:"sourceId"`
	Strict     bool   `json:"strict"`
	Blockchain string `json:"blockchain,omitempty"`
	Address    string `json:"address,omitempty"`
	Xpub       string `json:"xpub,omitempty"`
	Dir        string `json:"dir,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
	Exchange   string `json:"exchange,omitempty"`
	Since      string `json:"since,omitempty"` // RFC 3339, empty resumes from cursor
	Until      string `json:"until,omitempty"` // RFC 3339
}

func loadJobs(path string) ([]job, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs config: %w", err)
	}
	var jobs []job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse jobs config: %w", err)
	}
	return jobs, nil
}

// jobRunner adapts the configured jobs into a scheduler.Job so the same
// list can run once at startup and again on every cron tick.
type jobRunner struct {
	container *di.Container
	jobs      []job
	log       zerolog.Logger
}

func (r *jobRunner) Name() string { return "import-jobs" }

func (r *jobRunner) Run() error {
	r.runAll(context.Background())
	return nil
}

func (r *jobRunner) runAll(ctx context.Context) {
	for _, j := range r.jobs {
		log := r.log.With().Str("job_type", j.Type).Str("user_id", j.UserID).Logger()

		orch, err := r.buildOrchestrator(j)
		if err != nil {
			log.Error().Err(err).Msg("failed to build pipeline for job")
			continue
		}

		outcome, err := orch.RunImport(ctx, j.UserID)
		if err != nil {
			log.Error().Err(err).Msg("import run failed")
			continue
		}
		log.Info().
			Str("session_id", outcome.SessionID).
			Int("records_fetched", outcome.RecordsFetched).
			Int("normalized", outcome.Normalized).
			Int("succeeded", len(outcome.Batch.Successful)).
			Int("failed", len(outcome.Batch.Failed)).
			Msg("import run completed")

		since := time.Now().Add(-30 * 24 * time.Hour)
		if _, err := r.container.RunLinking(ctx, j.UserID, since); err != nil {
			log.Error().Err(err).Msg("linking pass failed")
		}

		balances, err := r.container.Ledger.GetAllBalances(ctx, j.UserID)
		if err != nil {
			log.Error().Err(err).Msg("balance summary failed")
			continue
		}
		for _, b := range balances {
			log.Info().Str("account", b.DisplayName).Str("currency", b.CurrencyTicker).Str("balance_smallest", b.BalanceSmallest).Msg("account balance")
		}
	}
}

func (r *jobRunner) buildOrchestrator(j job) (*pipeline.Orchestrator, error) {
	switch j.Type {
	case "address":
		return r.container.NewAddressPipeline(j.Blockchain, j.Address, j.SourceID, j.Strict)
	case "xpub":
		return r.container.NewXpubPipeline(j.Blockchain, j.Xpub, j.SourceID, j.Strict)
	case "csv":
		return r.container.NewCSVPipeline(j.Dir, j.ProviderID, j.SourceID, j.Strict), nil
	case "exchangeapi":
		since, err := parseJobTime(j.Since)
		if err != nil {
			return nil, fmt.Errorf("job since: %w", err)
		}
		until, err := parseJobTime(j.Until)
		if err != nil {
			return nil, fmt.Errorf("job until: %w", err)
		}
		return r.container.NewExchangeAPIPipeline(j.Exchange, j.SourceID, j.UserID, since, until, j.Strict)
	default:
		return nil, fmt.Errorf("unknown job type %q", j.Type)
	}
}

func parseJobTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
