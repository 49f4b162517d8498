// driftwatchd is the scheduler entrypoint for the drift detection pipeline.
// External schedulers invoke it in one of four modes: run (compute drift and
// evaluate alert rules for one customer), process-alerts (dispatch pending
// notifications), serve (ops API), and migrate (apply database migrations).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/alerts"
	"github.com/payrixa/driftwatch/internal/api"
	"github.com/payrixa/driftwatch/internal/audit"
	"github.com/payrixa/driftwatch/internal/claims"
	"github.com/payrixa/driftwatch/internal/config"
	"github.com/payrixa/driftwatch/internal/database"
	"github.com/payrixa/driftwatch/internal/domain"
	"github.com/payrixa/driftwatch/internal/drift"
	"github.com/payrixa/driftwatch/internal/repository"
	"github.com/payrixa/driftwatch/internal/repository/sqlite"
	"github.com/payrixa/driftwatch/internal/service"
)

func main() {
	var (
		mode     = flag.String("mode", "serve", "run | process-alerts | serve | migrate")
		customer = flag.String("customer", "", "customer UUID (run mode)")
		product  = flag.String("product", "", "product signal type; empty runs all (run mode)")
		start    = flag.String("start", "", "absolute window start YYYY-MM-DD (run mode)")
		end      = flag.String("end", "", "reference end date YYYY-MM-DD (run mode)")
	)
	flag.Parse()

	configManager, err := config.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := configManager.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *mode, *customer, *product, *start, *end, configManager, cfg, logger); err != nil {
		logger.WithError(err).Fatal("driftwatchd exited with error")
	}
}

func run(ctx context.Context, mode, customer, product, start, end string, configManager *config.Manager, cfg *domain.Config, logger *logrus.Logger) error {
	if mode == "migrate" {
		return runMigrations(ctx, configManager, cfg, logger)
	}

	stores, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	auditPub := audit.NewPublisher(stores.audits, logger)

	evaluator, err := alerts.NewEvaluator(stores.rules, stores.events, auditPub, cfg.Alerting, logger)
	if err != nil {
		return fmt.Errorf("creating evaluator: %w", err)
	}

	var cache *redis.Client
	if cfg.Cache.Enabled {
		opt, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis URL: %w", err)
		}
		cache = redis.NewClient(opt)
		defer cache.Close()
	}
	suppression := alerts.NewSuppressionEngine(stores.events, cache, cfg.Alerting, logger)

	var artifacts domain.ArtifactProvider
	if cfg.Alerting.AttachPDF {
		artifacts = alerts.NewFileArtifacts(cfg.Alerting.ArtifactDir)
	}
	email := alerts.NewEmailSender(alerts.NewSMTPTransport(cfg.SMTP), artifacts, cfg.SMTP, cfg.Alerting, logger)
	slack := alerts.NewSlackSender(cfg.Slack, cfg.Alerting, logger)
	router := alerts.NewRouter(stores.events, stores.channels, stores.rules, suppression,
		email, slack, auditPub, cfg.Alerting, logger)

	// The claims warehouse connection is only needed by modes that compute
	// drift; process-alerts works from already-persisted events.
	var engines map[string]*drift.Engine
	if mode == "run" || mode == "serve" {
		claimStore, err := claims.NewStore(cfg.Claims.DSN, logger)
		if err != nil {
			return fmt.Errorf("opening claims store: %w", err)
		}
		defer claimStore.Close()
		engines = buildEngines(cfg, stores, claimStore, logger)
	}
	pipeline := service.NewPipeline(engines, stores.drift, evaluator, router, logger)

	switch mode {
	case "run":
		return runDetection(ctx, pipeline, customer, product, start, end, logger)
	case "process-alerts":
		result, err := pipeline.ProcessAlerts(ctx)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"total":  result.Total,
			"sent":   result.Sent,
			"failed": result.Failed,
		}).Info("Alert processing finished")
		return nil
	case "serve":
		server := api.NewServer(pipeline, stores.events, stores.judgments, suppression,
			cfg.Server, cfg.Logging.Level, logger)
		return server.Start(ctx)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// stores bundles the persistence interfaces behind either the Postgres or
// the embedded sqlite implementation.
type stores struct {
	drift     domain.DriftStore
	runs      domain.ReportRunStore
	events    domain.AlertEventStore
	rules     domain.RuleStore
	channels  domain.ChannelStore
	judgments domain.JudgmentStore
	audits    domain.AuditStore
}

func buildStores(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*stores, func(), error) {
	if cfg.SQLite.Enabled {
		store, err := sqlite.NewStore(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		s := &stores{
			drift:     store,
			runs:      store,
			events:    store,
			rules:     store,
			channels:  store,
			judgments: store,
			audits:    store,
		}
		return s, func() { store.Close() }, nil
	}

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	s := &stores{
		drift:     repository.NewDriftRepository(db.Pool, logger),
		runs:      repository.NewReportRunRepository(db.Pool, logger),
		events:    repository.NewAlertEventRepository(db.Pool, logger),
		rules:     repository.NewRuleRepository(db.Pool, logger),
		channels:  repository.NewChannelRepository(db.Pool, logger),
		judgments: repository.NewJudgmentRepository(db.Pool, logger),
		audits:    repository.NewAuditRepository(db.Pool, logger),
	}
	return s, db.Close, nil
}

func buildEngines(cfg *domain.Config, s *stores, claimStore *claims.Store, logger *logrus.Logger) map[string]*drift.Engine {
	aggregator := drift.NewClaimAggregator(claimStore)

	detectors := []drift.SignalDetector{
		drift.NewDenialRateDetector(cfg.Drift, logger),
		drift.NewPaymentDelayDetector(cfg.Drift, logger),
	}

	engines := make(map[string]*drift.Engine, len(detectors))
	for _, detector := range detectors {
		engines[detector.SignalType()] = drift.NewEngine(s.drift, s.runs, aggregator, detector, cfg.Drift, logger)
	}
	return engines
}

func runDetection(ctx context.Context, pipeline *service.Pipeline, customer, product, start, end string, logger *logrus.Logger) error {
	if customer == "" {
		return fmt.Errorf("run mode requires -customer")
	}
	customerID, err := uuid.Parse(customer)
	if err != nil {
		return fmt.Errorf("parsing customer id: %w", err)
	}

	startDate, err := parseDateFlag(start)
	if err != nil {
		return fmt.Errorf("parsing -start: %w", err)
	}
	endDate, err := parseDateFlag(end)
	if err != nil {
		return fmt.Errorf("parsing -end: %w", err)
	}

	var summaries []*service.RunSummary
	if product == "" {
		summaries, err = pipeline.RunAll(ctx, customerID, startDate, endDate)
	} else {
		var summary *service.RunSummary
		summary, err = pipeline.Run(ctx, customerID, product, startDate, endDate)
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}
	if err != nil {
		return err
	}

	for _, summary := range summaries {
		logger.WithFields(logrus.Fields{
			"product":            summary.Product,
			"report_run_id":      summary.ReportRunID,
			"signals_created":    summary.Computation.SignalsCreated,
			"aggregates_created": summary.Computation.AggregatesCreated,
			"alert_events":       summary.AlertEventsActive,
		}).Info("Run summary")
	}
	return nil
}

func runMigrations(ctx context.Context, configManager *config.Manager, cfg *domain.Config, logger *logrus.Logger) error {
	if cfg.SQLite.Enabled {
		// The sqlite store creates its schema on open.
		store, err := sqlite.NewStore(cfg.SQLite.Path, logger)
		if err != nil {
			return fmt.Errorf("initializing sqlite schema: %w", err)
		}
		return store.Close()
	}

	runner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		return fmt.Errorf("creating migration runner: %w", err)
	}
	defer runner.Close()

	return runner.Up(ctx)
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger.SetOutput(os.Stdout)
	return logger
}

func parseDateFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
