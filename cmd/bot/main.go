package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xaenox/vailentin/internal/bot"
	"github.com/xaenox/vailentin/internal/classifier"
	"github.com/xaenox/vailentin/internal/gate"
	"github.com/xaenox/vailentin/internal/llm"
	"github.com/xaenox/vailentin/internal/metrics"
	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/notify"
	"github.com/xaenox/vailentin/internal/pipeline"
	"github.com/xaenox/vailentin/internal/related"
	"github.com/xaenox/vailentin/internal/scheduler"
	"github.com/xaenox/vailentin/internal/stats"
	"github.com/xaenox/vailentin/internal/storage"
	"github.com/xaenox/vailentin/internal/summarizer"
	"github.com/xaenox/vailentin/internal/tags"
	"github.com/xaenox/vailentin/internal/threads"
	"github.com/xaenox/vailentin/internal/tuner"
	"github.com/xaenox/vailentin/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize logger
	logger, _ := zap.NewProduction()
	if cfg.Log.Debug {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		MaxTokens:      cfg.OpenAI.MaxTokens,
		Temperature:    cfg.OpenAI.Temperature,
		Timeout:        cfg.OpenAI.Timeout,
	}, m, logger)

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, cfg.Telegram.OwnerID, cfg.Telegram.Timeout, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	notifier := notify.NewNotifier(b, notify.NewDeduplicator(cfg.Notify.Cooldown, time.Now), notify.Config{
		OwnerID:           cfg.Telegram.OwnerID,
		LowResponseRate:   cfg.Notify.LowResponseRate,
		HighActivityCount: cfg.Notify.HighActivityCount,
		ThresholdChange:   cfg.Notify.ThresholdChange,
	}, m, logger)

	var clf classifier.Classifier = classifier.NewSimpleClassifier(cfg.Classifier.MinConfidence, cfg.Classifier.MaxTags)
	if cfg.Classifier.UseGPT {
		clf = classifier.NewGPTClassifier(provider, cfg.Classifier.MinConfidence, cfg.Classifier.MaxTags, logger)
	}

	names := append([]string{cfg.Telegram.BotName}, cfg.Telegram.Aliases...)
	if b.Username() != "" {
		names = append(names, "@"+b.Username())
	}

	chatType, ok := models.ParseChatType(cfg.Engine.ChatType)
	if !ok {
		logger.Fatal("Unknown chat type", zap.String("chat_type", cfg.Engine.ChatType))
	}
	statsCache := stats.NewCache(store, cfg.Stats.TTL, m, logger,
		stats.WithTrendDays(cfg.Stats.TrendDays),
		stats.WithParallelism(cfg.Stats.Parallelism))
	shutdown := &pipeline.Switch{}

	p := pipeline.New(pipeline.Deps{
		Store:      store,
		Threads:    threads.NewManager(store, m, logger),
		Classifier: clf,
		Tags:       tags.NewStore(store, logger),
		Summarizer: summarizer.New(store, provider, cfg.Engine.SummaryWindow, logger),
		Related:    related.NewFinder(store, provider, cfg.Engine.RelatedThreshold, logger),
		Gate:       gate.New(provider, names, logger, gate.WithUrgencyMarkers(cfg.Engine.UrgencyMarkers)),
		Stats:      statsCache,
		Provider:   provider,
		Sender:     b,
		Alerts:     notifier,
		Switch:     shutdown,
		Metrics:    m,
	}, pipeline.Config{
		BotID:           b.ID(),
		BotName:         cfg.Telegram.BotName,
		ContextMessages: cfg.Engine.ContextMessages,
		Defaults: pipeline.ChatDefaults{
			Type:                chatType,
			SmartMode:           cfg.Engine.DefaultSmartMode,
			ResponseProbability: cfg.Engine.DefaultResponseProbability,
			ImportanceThreshold: cfg.Engine.DefaultImportanceThreshold,
		},
	}, logger)

	thresholdTuner := tuner.New(store, notifier, tuner.Config{
		Window:      cfg.Tuner.Window,
		TargetLow:   cfg.Tuner.TargetLow,
		TargetHigh:  cfg.Tuner.TargetHigh,
		Step:        cfg.Tuner.Step,
		Min:         cfg.Tuner.Min,
		Max:         cfg.Tuner.Max,
		Parallelism: cfg.Tuner.Parallelism,
	}, m, logger)

	periodic := []scheduler.Job{
		{
			Name:     "tune_thresholds",
			Interval: cfg.Tuner.Interval,
			Run: func(ctx context.Context) error {
				_, err := thresholdTuner.TuneAll(ctx)
				return err
			},
		},
		{
			Name:     "refresh_stats",
			Interval: cfg.Stats.RefreshInterval,
			Run: func(ctx context.Context) error {
				return statsCache.RefreshAll(ctx, notifier)
			},
		},
	}
	if cfg.Notify.DailySummary > 0 {
		periodic = append(periodic, scheduler.Job{
			Name:     "daily_summary",
			Interval: cfg.Notify.DailySummary,
			Run: func(ctx context.Context) error {
				summary, err := statsCache.DailySummary(ctx)
				if err != nil {
					return err
				}
				notifier.NotifyDailySummary(ctx, summary)
				return nil
			},
		})
	}
	jobs := scheduler.New(logger, m, periodic...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier.NotifyStartup(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx, p) })
	g.Go(func() error { return jobs.Run(gctx) })
	if cfg.Metrics.Addr != "" {
		server := metrics.NewServer(cfg.Metrics.Addr, registry, logger)
		g.Go(func() error { return server.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("Bot stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	notifier.NotifyShutdown(shutdownCtx)
	logger.Info("Bot stopped")
}
