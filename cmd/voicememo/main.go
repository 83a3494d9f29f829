package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onewave/voicememo/internal/api"
	"github.com/onewave/voicememo/internal/billing"
	"github.com/onewave/voicememo/internal/config"
	"github.com/onewave/voicememo/internal/database"
	"github.com/onewave/voicememo/internal/pipeline"
	"github.com/onewave/voicememo/internal/storage"
	"github.com/onewave/voicememo/internal/summarize"
	"github.com/onewave/voicememo/internal/transcribe"
	"github.com/rs/zerolog"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "memo history database URL")
	flag.StringVar(&overrides.MediaDir, "media-dir", "", "scratch directory for uploaded audio")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("voicememo starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Media scratch store; leftovers belong to interrupted runs
	media, err := storage.NewMediaStore(cfg.MediaDir, log.With().Str("component", "media").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare media dir")
	}
	if err := media.Sweep(); err != nil {
		log.Warn().Err(err).Msg("media sweep failed")
	}

	// Memo history store (optional)
	var db *database.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
	} else {
		log.Info().Msg("no DATABASE_URL configured, memo history disabled")
	}

	// External service clients
	ledger := billing.NewClient(cfg.BillingBaseURL, cfg.BillingAPIKey,
		log.With().Str("component", "billing").Logger())
	guard := billing.NewGuard(ledger, cfg.BalanceSlackUSD, cfg.FreeUsers,
		log.With().Str("component", "billing").Logger())
	asr := transcribe.NewClient(cfg.ASRBaseURL, cfg.ASRAPIKey, transcribe.Options{
		Language:       cfg.ASRLanguage,
		OperatingPoint: cfg.ASROperatingPoint,
		Diarization:    cfg.ASRDiarization,
		PollInterval:   cfg.PollInterval,
		PollAttempts:   cfg.PollAttempts,
	}, log.With().Str("component", "transcribe").Logger())
	summarizer := summarize.NewClient(cfg.SummaryBaseURL, cfg.SummaryAPIKey,
		log.With().Str("component", "summarize").Logger())

	// Pipeline coordinator
	var store pipeline.Recorder
	if db != nil {
		store = db
	}
	coord := pipeline.New(guard, asr, summarizer, store, pipeline.Options{
		SummaryTimeout: cfg.SummaryTimeout,
		InlineLimit:    cfg.InlineLimit,
	}, log.With().Str("component", "pipeline").Logger())

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, coord, db, media, version, startTime, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("voicememo stopped")
}
