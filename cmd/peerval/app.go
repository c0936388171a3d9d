package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"peer-validation/internal/config"
	"peer-validation/internal/consensus"
	dbpkg "peer-validation/internal/db"
	"peer-validation/internal/logger"
	"peer-validation/internal/metrics"
	"peer-validation/internal/models"
	"peer-validation/internal/store"
	"peer-validation/internal/validation"
)

// app is the wired service shared by all subcommands.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	db       *gorm.DB
	store    store.Store
	registry *prometheus.Registry
	metrics  *metrics.Collector
	svc      *validation.Service
}

// newApp loads configuration, connects the database and wires the service.
// Without DATABASE_URL the service runs on the in-memory store. Logs go to
// logWriter as JSON lines, or to a console writer on stderr when it is nil.
func newApp(logWriter io.Writer) (*app, error) {
	cfg := config.Load()
	if flagDebug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var log zerolog.Logger
	if logWriter == nil {
		log = logger.Console(cfg.Debug)
	} else {
		log = logger.NewWithWriter(cfg.Debug, logWriter)
	}
	log.Debug().Str("config", cfg.DebugString()).Msg("config loaded")

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(a.registry)

	gormDB, err := dbpkg.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if gormDB != nil {
		log.Info().Msg("DB connected")
		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.db = gormDB
		a.store = store.NewGorm(gormDB)
	} else {
		log.Warn().Msg("DATABASE_URL not provided, using in-memory store")
		a.store = store.NewMemory()
	}

	onFinalize := consensus.FinalizeListenerFunc(func(_ context.Context, sub models.Submission, tally models.Tally) {
		log.Info().
			Str("submission", sub.ID.String()).
			Str("owner", sub.OwnerID).
			Str("status", string(sub.Status)).
			Int("approvals", tally.Approved).
			Int("rejections", tally.Rejected).
			Msg("submission decided")
	})
	a.svc = validation.New(a.store, validation.SettingsFrom(cfg), log, a.metrics, onFinalize)
	return a, nil
}

func (a *app) Close() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// periodOrCurrent defaults an empty period flag to the current month.
func periodOrCurrent(p string) string {
	if p == "" {
		return models.PeriodOf(nowUTC()).Key()
	}
	return p
}

func nowUTC() time.Time { return time.Now().UTC() }
