// Package app assembles the whole bot from configuration and manages
// its lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"newsward/internal/classify"
	"newsward/internal/collector"
	"newsward/internal/config"
	"newsward/internal/deliver"
	"newsward/internal/enrich"
	"newsward/internal/extract"
	"newsward/internal/fetch"
	"newsward/internal/observability/pprof"
	"newsward/internal/pipeline"
	"newsward/internal/quality"
	"newsward/internal/storage"
	"newsward/internal/transport/telegram"
	logx "newsward/pkg/logx"
)

// lateSender defers the Sender binding: the delivery engine is built
// before the Telegram service that actually sends.
type lateSender struct {
	mu sync.RWMutex
	s  deliver.Sender
}

func (l *lateSender) bind(s deliver.Sender) {
	l.mu.Lock()
	l.s = s
	l.mu.Unlock()
}

func (l *lateSender) Send(ctx context.Context, chatID int64, text string) error {
	l.mu.RLock()
	s := l.s
	l.mu.RUnlock()
	if s == nil {
		return fmt.Errorf("sender not bound yet")
	}
	return s.Send(ctx, chatID, text)
}

type App struct {
	cfgPath  string
	log      logx.Logger
	logClose func() error

	store *storage.Store
	pipe  *pipeline.Pipeline
	svc   *pipeline.Service
	bot   *telegram.Service
	prof  *pprof.Service

	cancelWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	log, logClose, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfgPath: cfgPath, log: log.With(logx.String("comp", "app")), logClose: logClose}
	if err := a.build(cfg, log); err != nil {
		_ = logClose()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	busy, err := config.ParseDurationOrDefault("database.busy_timeout", cfg.Database.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{Path: cfg.Database.Path, BusyTimeout: busy}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	fetchTimeout, err := config.ParseDurationOrDefault("collector.fetch_timeout", cfg.Collector.FetchTimeout, 25*time.Second)
	if err != nil {
		return err
	}
	client := fetch.New(fetch.Config{Timeout: fetchTimeout, Insecure: true}, log.With(logx.String("comp", "fetch")))

	errWindow, err := config.ParseDurationOrDefault("collector.error_window", cfg.Collector.ErrorWindow, 10*time.Minute)
	if err != nil {
		return err
	}
	streakCooldown, err := config.ParseDurationOrDefault("collector.streak_cooldown", cfg.Collector.StreakCooldown, 10*time.Minute)
	if err != nil {
		return err
	}
	col := collector.New(collector.Config{
		Workers:        cfg.Collector.Workers,
		FetchTimeout:   fetchTimeout,
		ErrorWindow:    errWindow,
		ErrorLimit:     cfg.Collector.ErrorLimit,
		StreakCooldown: streakCooldown,
	}, client, store, log.With(logx.String("comp", "collector")))

	gw, err := buildGateway(cfg.Enrich, store, log)
	if err != nil {
		return err
	}

	qcfg, err := qualityConfig(cfg.Quality)
	if err != nil {
		return err
	}
	qe := quality.NewEngine(qcfg, store, log.With(logx.String("comp", "quality")))
	cls := classify.New(gw, log.With(logx.String("comp", "classify")))
	ref := extract.NewRefiner(gw, cfg.Enrich.CleanupMinLen, log.With(logx.String("comp", "extract")))

	sendTimeout, err := config.ParseDurationOrDefault("deliver.send_timeout", cfg.Deliver.SendTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	replayMaxAge, err := config.ParseDurationOrDefault("deliver.replay_max_age", cfg.Deliver.ReplayMaxAge, 24*time.Hour)
	if err != nil {
		return err
	}
	sender := &lateSender{}
	del := deliver.NewEngine(deliver.Config{
		Workers:      cfg.Deliver.Workers,
		RatePerSec:   cfg.Deliver.RatePerSec,
		SendTimeout:  sendTimeout,
		ReplayMaxAge: replayMaxAge,
	}, store, sender, log.With(logx.String("comp", "deliver")))

	leaseTTL, err := config.ParseDurationOrDefault("collector.instance_lease_ttl", cfg.Collector.InstanceLeaseTTL, 5*time.Minute)
	if err != nil {
		return err
	}
	host, _ := os.Hostname()
	a.pipe = pipeline.New(pipeline.Config{
		InstanceID:       fmt.Sprintf("%s-%d", host, os.Getpid()),
		InstanceLeaseTTL: leaseTTL,
	}, cfg.Sources, pipeline.Deps{
		Store:      store,
		Collector:  col,
		Quality:    qe,
		Refiner:    ref,
		Classifier: cls,
		Gateway:    gw,
		Deliver:    del,
		Log:        log.With(logx.String("comp", "pipeline")),
	})

	schedule := cfg.Collector.Schedule
	if schedule == "" {
		schedule = "10m"
	}
	a.svc = pipeline.NewService(a.pipe, schedule, log.With(logx.String("comp", "scheduler")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	bot, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		Admins:      cfg.Telegram.Admins,
	}, store, a.pipe, del, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.bot = bot
	sender.bind(bot)

	a.prof = pprof.New(pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}, log.With(logx.String("comp", "pprof")))
	return nil
}

func buildGateway(cfg config.EnrichConfig, store *storage.Store, log logx.Logger) (*enrich.Gateway, error) {
	cacheTTL, err := config.ParseDurationOrDefault("enrich.cache_ttl", cfg.CacheTTL, 72*time.Hour)
	if err != nil {
		return nil, err
	}
	callTimeout, err := config.ParseDurationOrDefault("enrich.call_timeout", cfg.CallTimeout, 15*time.Second)
	if err != nil {
		return nil, err
	}

	var caller enrich.Caller
	if cfg.Enabled {
		caller = enrich.NewClient(enrich.ClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: callTimeout,
			Retries: cfg.RetryMax,
		}, log.With(logx.String("comp", "llm")))
	}
	budget := enrich.NewBudget(enrich.BudgetConfig{
		DailyLimitUSD: cfg.DailyBudgetUSD,
		ReserveUSD:    cfg.DailyReserveUSD,
		DailyTokenCap: cfg.DailyTokenBudget,
		InputRateUSD:  cfg.InputRateUSD,
		OutputRateUSD: cfg.OutputRateUSD,
	}, store, log.With(logx.String("comp", "budget")))

	return enrich.NewGateway(enrich.Config{
		Enabled:  cfg.Enabled,
		CacheTTL: cacheTTL,
		Stopped: func(ctx context.Context) bool {
			lease, err := store.GetLease(ctx, storage.LeaseStop)
			return err == nil && lease != nil
		},
	}, caller, store, budget, enrich.NewCycleGate(cfg.MaxCallsPerCycle), log.With(logx.String("comp", "enrich"))), nil
}

func qualityConfig(cfg config.QualityConfig) (quality.Config, error) {
	dedupWindow, err := config.ParseDurationOrDefault("quality.dedup_window", cfg.DedupWindow, 48*time.Hour)
	if err != nil {
		return quality.Config{}, err
	}
	titleWindow, err := config.ParseDurationOrDefault("quality.title_window", cfg.TitleWindow, 24*time.Hour)
	if err != nil {
		return quality.Config{}, err
	}
	maxAge, err := config.ParseDurationOrDefault("quality.max_item_age", cfg.MaxItemAge, 24*time.Hour)
	if err != nil {
		return quality.Config{}, err
	}
	return quality.Config{
		MinScore:        cfg.MinScore,
		MinScoreNoisy:   cfg.MinScoreNoisy,
		MinTextLen:      cfg.MinTextLen,
		MinTextLenFeed:  cfg.MinTextLenFeed,
		DedupWindow:     dedupWindow,
		TitleWindow:     titleWindow,
		SimhashDistance: cfg.SimhashDistance,
		TitleJaccard:    cfg.TitleJaccard,
		MaxItemAge:      maxAge,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.bot.Start(ctx); err != nil {
		return err
	}
	if err := a.svc.Start(ctx); err != nil {
		_ = a.bot.Stop(ctx)
		return err
	}
	if err := a.prof.Start(ctx); err != nil {
		a.log.Warn("pprof unavailable", logx.Err(err))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancelWatch = cancel
	if err := config.Watch(watchCtx, a.cfgPath, a.log, func(cfg *config.Config) {
		a.pipe.SetSources(cfg.Sources)
		a.log.Info("sources reloaded", logx.Int("count", len(cfg.Sources)))
	}); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	if err := a.svc.Stop(ctx); err != nil {
		a.log.Warn("scheduler stop", logx.Err(err))
	}
	if err := a.prof.Stop(ctx); err != nil {
		a.log.Warn("pprof stop", logx.Err(err))
	}
	if err := a.bot.Stop(ctx); err != nil {
		a.log.Warn("bot stop", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("stopped")
	if a.logClose != nil {
		_ = a.logClose()
	}
	return nil
}
