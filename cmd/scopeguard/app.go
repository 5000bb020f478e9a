package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/exploopio/scopeguard/pkg/audit"
	"github.com/exploopio/scopeguard/pkg/config"
	"github.com/exploopio/scopeguard/pkg/health"
	"github.com/exploopio/scopeguard/pkg/llm"
	"github.com/exploopio/scopeguard/pkg/logger"
	"github.com/exploopio/scopeguard/pkg/metrics"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/policy"
	"github.com/exploopio/scopeguard/pkg/ratelimit"
	"github.com/exploopio/scopeguard/pkg/runctx"
	"github.com/exploopio/scopeguard/pkg/store"
)

// app holds the collaborators shared by the run commands.
type app struct {
	mode     string
	cfg      *config.Config
	rc       *runctx.Context
	log      *logger.DefaultLogger
	store    *store.SQLiteStore
	auditLog *audit.FileRecorder
	recorder audit.Recorder
	metrics  metrics.Collector
	limiter  *ratelimit.Limiter

	// llm is nil when no provider is configured.
	llm *llm.Client

	metricsSrv *http.Server
	health     *health.Handler

	// summary is merged into the run_finished audit event.
	summary map[string]any
}

// loadConfig reads --config and applies the global flag overrides, then the
// command-specific ones.
func loadConfig(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(globalFlags.configPath)
	if err != nil {
		return nil, err
	}
	if globalFlags.dbPath != "" {
		cfg.Storage.DBPath = globalFlags.dbPath
	}
	if globalFlags.auditLog != "" {
		cfg.Storage.AuditLog = globalFlags.auditLog
	}
	if globalFlags.metricsAddr != "" {
		cfg.Metrics.Addr = globalFlags.metricsAddr
	}
	if globalFlags.verbose {
		cfg.Logging.Level = "debug"
	}
	if override != nil {
		override(cfg)
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) *logger.DefaultLogger {
	log := logger.New("["+appName+"]", logger.ParseLevel(cfg.Logging.Level))
	log.SetOutput(os.Stderr)
	return log
}

// newApp wires storage, audit, metrics, rate limiting and the language model
// client for one run, and opens the run record.
func newApp(ctx context.Context, mode string, override func(*config.Config)) (*app, error) {
	cfg, err := loadConfig(override)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	rc, err := runctx.Load(cfg, "")
	if err != nil {
		return nil, err
	}

	a := &app{mode: mode, cfg: cfg, rc: rc, log: log, metrics: &metrics.NopCollector{}}

	if cfg.Metrics.Addr != "" {
		pc, err := metrics.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		a.metrics = pc
		a.serveMetrics(pc)
	}

	st, err := store.Open(&store.Config{Path: cfg.Storage.DBPath})
	if err != nil {
		a.shutdownMetrics()
		return nil, err
	}
	a.store = st

	fr, err := audit.NewFileRecorder(&audit.FileConfig{
		Path:    cfg.Storage.AuditLog,
		RunID:   rc.RunID(),
		Verbose: globalFlags.verbose,
		Console: os.Stderr,
	})
	if err != nil {
		a.close(model.RunStatusFailed)
		return nil, err
	}
	a.auditLog = fr
	a.recorder = audit.Multi{st, fr}

	if _, err := st.StartRun(ctx, rc.RunID(), mode); err != nil {
		a.close(model.RunStatusFailed)
		return nil, err
	}
	if err := fr.RunStarted(rc.RunID(), mode); err != nil {
		log.Warn("audit: %v", err)
	}

	a.limiter = ratelimit.New(ratelimit.Config{
		RatePerMinute:  cfg.RateLimit.ScanRate,
		Burst:          cfg.RateLimit.Burst,
		MaxConcurrency: cfg.RateLimit.MaxConcurrency,
		Metrics:        a.metrics,
	})

	if cfg.ArbiterEnabled() {
		llmCfg := llm.ConfigFrom(cfg.LLM, rc.RunID(), st)
		llmCfg.Logger = log
		c, err := llm.New(llmCfg)
		if err != nil {
			a.close(model.RunStatusFailed)
			return nil, err
		}
		a.llm = c
		log.Debug("llm: using %s", c.Model())
	} else {
		log.Debug("llm: disabled (provider %q, api key set: %v)", cfg.LLM.Provider, cfg.LLM.APIKey != "")
	}

	log.Info("run %s started (%s)", rc.RunID(), mode)
	return a, nil
}

// engine builds a policy engine. A nil prompter disables interactive override.
func (a *app) engine(prompter policy.Prompter) *policy.Engine {
	opts := policy.Options{
		Prompter: prompter,
		Recorder: a.recorder,
		Limiter:  a.limiter,
		Logger:   a.log,
		Metrics:  a.metrics,
	}
	if a.llm != nil {
		opts.Arbiter = llm.NewArbiter(a.llm)
	}
	return policy.NewEngine(a.rc, opts)
}

// minFreeDisk is the free space below which /healthz reports the storage
// directory unhealthy.
const minFreeDisk = 64 << 20

func (a *app) serveMetrics(pc *metrics.PrometheusCollector) {
	a.health = health.NewHandler(health.WithVersion(appVersion), health.WithRunID(a.rc.RunID()))
	a.health.Register("store", &health.StoreCheck{PingFunc: func(ctx context.Context) error {
		if a.store == nil {
			return errors.New("store not open")
		}
		return a.store.Ping(ctx)
	}})
	a.health.Register("storage_disk", &health.DiskCheck{
		Path:         filepath.Dir(a.cfg.Storage.DBPath),
		MinFreeBytes: minFreeDisk,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", pc.Handler())
	health.RegisterRoutes(mux, a.health, health.DefaultRoutes())

	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server: %v", err)
		}
	}()
	a.log.Info("serving metrics on %s", a.cfg.Metrics.Addr)
}

func (a *app) shutdownMetrics() {
	if a.metricsSrv == nil {
		return
	}
	a.health.SetReady(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.metricsSrv.Shutdown(ctx)
}

// close finishes the run record and releases every resource. It runs on a
// fresh context so an interrupted command still closes its run.
func (a *app) close(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.store != nil {
		if err := a.store.FinishRun(ctx, a.rc.RunID(), status); err != nil {
			a.log.Warn("store: finish run: %v", err)
		}
		if run, err := a.store.GetRun(ctx, a.rc.RunID()); err == nil && run != nil {
			if a.auditLog != nil {
				details := map[string]any{
					"decisions": run.DecisionCount,
					"findings":  run.FindingsCount,
				}
				for k, v := range a.summary {
					details[k] = v
				}
				_ = a.auditLog.RunFinished(run.ID, status, details)
			}
		}
	}
	if a.auditLog != nil {
		_ = a.auditLog.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.shutdownMetrics()
	a.log.Info("run %s %s", a.rc.RunID(), status)
}

// runStatus maps a command result to the stored run status.
func runStatus(err error) string {
	if err == nil || errors.Is(err, errDenied) {
		return model.RunStatusCompleted
	}
	return model.RunStatusFailed
}
