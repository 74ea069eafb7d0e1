package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/labelspy/server/internal/agent/conversations"
	"github.com/labelspy/server/internal/agent/gateway/analysis"
	"github.com/labelspy/server/internal/agent/gateway/recognition"
	"github.com/labelspy/server/internal/agent/model"
	"github.com/labelspy/server/internal/agent/observers"
	"github.com/labelspy/server/internal/agent/repo"
	"github.com/labelspy/server/internal/core"
	"github.com/labelspy/server/internal/metrics"
	"github.com/labelspy/server/internal/transport/telegram"
	logx "github.com/labelspy/server/pkg/logger"
	pkgredis "github.com/labelspy/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the bot, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	MetricsAddr string           `envconfig:"METRICS_ADDR" default:":9090"`

	// Infrastructure
	Redis    pkgredis.Config
	Telegram telegram.Config

	// Agent configs
	Recognition  model.RecognitionConfig
	Analysis     model.AnalysisModelConfig
	Session      model.SessionConfig
	History      model.HistoryConfig
	Conversation model.ConversationConfig
}

func loadConfig() (AppConfig, error) {
	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process environment config: %w", err)
	}
	switch cfg.Session.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.URL == "" {
			return cfg, errors.New("REDIS_URL is required when SESSION_BACKEND=redis")
		}
	default:
		return cfg, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.Session.Backend)
	}
	return cfg, nil
}

func main() {
	logx.Init()
	cfg, err := loadConfig()
	if err != nil {
		logx.Fatal().Err(err).Msg("invalid configuration")
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal().Err(err).Msg("labelspy stopped with error")
	}
	logx.Info().Msg("labelspy stopped")
}

func run(ctx context.Context, cfg AppConfig) error {
	history, err := repo.NewHistoryStore(repo.HistoryStoreConfig{Path: cfg.History.DatabasePath})
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer history.Close()

	var sessions model.SessionRepository
	ready := history.Ping
	switch cfg.Session.Backend {
	case "redis":
		rdb, err := cfg.Redis.New()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		sessions = repo.NewRedisSessionRepository(rdb, cfg.Session.TTL)
		ready = func() error {
			if err := history.Ping(); err != nil {
				return err
			}
			return rdb.Ping(context.Background()).Err()
		}
	default:
		sessions = repo.NewMemorySessionRepository(cfg.Session.TTL)
	}
	logx.Info().Str("backend", cfg.Session.Backend).Msg("session store ready")

	chat, err := analysis.NewChatModel(ctx, cfg.Analysis)
	if err != nil {
		return fmt.Errorf("create chat model: %w", err)
	}
	analyzer, err := analysis.NewGateway(ctx, chat, cfg.Analysis, observers.NewAllCallbacks())
	if err != nil {
		return fmt.Errorf("build analysis gateway: %w", err)
	}
	recognizer := recognition.NewClient(cfg.Recognition)

	api, err := telegram.NewBotAPI(cfg.Telegram)
	if err != nil {
		return err
	}
	bot := telegram.NewBot(api, cfg.Telegram, cfg.Recognition.MaxImageBytes)

	controller := conversations.NewController(conversations.Deps{
		Recognizer: recognizer,
		Analyzer:   analyzer,
		Sessions:   sessions,
		History:    history,
		Presenter:  bot,
		Limiter:    conversations.NewLimiter(cfg.Conversation.RateLimit.PerMinute, cfg.Conversation.RateLimit.Burst),
	}, conversations.Config{
		PreviewLen:   cfg.Conversation.PreviewLen,
		HistoryLimit: cfg.History.Limit,
		ExcerptLen:   cfg.History.ExcerptLen,
	})

	// Handlers outlive the polling context so queued events can finish.
	dispatcher := conversations.NewDispatcher(context.WithoutCancel(ctx), func(ctx context.Context, ev conversations.Event) {
		_ = controller.Handle(ctx, ev)
	}, conversations.DefaultMailboxSize)
	bot.SetSubmitter(dispatcher)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.NewRouter(ready),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logx.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener started")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	logx.Info().Msg("labelspy bot started")
	runErr := bot.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("pending events did not finish before shutdown")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logx.Warn().Err(err).Msg("metrics listener shutdown failed")
		}
	}
	return runErr
}
