package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ucsal/oraculo-anonimo/internal/config"
	"github.com/ucsal/oraculo-anonimo/internal/handler"
	"github.com/ucsal/oraculo-anonimo/internal/handler/telegram"
	"github.com/ucsal/oraculo-anonimo/internal/logger"
	"github.com/ucsal/oraculo-anonimo/internal/service/ai"
	"github.com/ucsal/oraculo-anonimo/internal/service/intake"
)

const module = "main"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; the process environment still applies.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLog := logger.NewZapLogger(cfg.Log.File, cfg.IsProduction())
	defer appLog.Sync()

	if envErr != nil {
		appLog.Warn(module, "no .env file loaded, using process environment", map[string]any{"error": envErr.Error()})
	}

	if !cfg.Telegram.Enabled() && !cfg.Server.Enabled {
		appLog.Error(module, "no transport enabled: set TELEGRAM_TOKEN or HTTP_ENABLED=true", nil)
		os.Exit(1)
	}

	if !cfg.AI.Enabled() {
		appLog.Error(module, "completion service credentials missing", map[string]any{"provider": cfg.AI.Provider})
		os.Exit(1)
	}

	classifier, err := ai.NewServiceFromConfig(ctx, cfg.AI, appLog)
	if err != nil {
		appLog.Error(module, "failed to initialize classification gateway", map[string]any{"error": err})
		os.Exit(1)
	}
	appLog.Info(module, "classification gateway ready", map[string]any{
		"provider": cfg.AI.Provider,
		"timeout":  cfg.AI.ClassifyTimeout.String(),
	})

	intakeSvc := intake.NewService(classifier, cfg.Intake.SessionTTL, appLog)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if cfg.Telegram.Enabled() {
		api, err := telegram.NewAPI(cfg.Telegram.Token, cfg.Telegram.Debug)
		if err != nil {
			appLog.Error(module, "failed to initialize telegram", map[string]any{"error": err})
			os.Exit(1)
		}
		appLog.Info(module, "telegram bot authorized", map[string]any{"username": api.Self.UserName})

		bot := telegram.New(api, intakeSvc, telegram.Config{Username: api.Self.UserName, PollTimeout: cfg.Telegram.PollTimeout}, appLog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- bot.Run(ctx)
		}()
	} else {
		appLog.Warn(module, "TELEGRAM_TOKEN not set, telegram transport disabled", nil)
	}

	if cfg.Server.Enabled {
		router := handler.NewRouter(intakeSvc, appLog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- startServer(ctx, cfg.Server, router, appLog)
		}()
	}

	go func() {
		wg.Wait()
		close(errCh)
	}()

	for err := range errCh {
		if err != nil {
			appLog.Error(module, "transport stopped with error", map[string]any{"error": err})
			stop()
		}
	}
	appLog.Info(module, "bot stopped", nil)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, appLog logger.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	appLog.Info(module, "web intake listening", map[string]any{"addr": serverCfg.Addr})
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
