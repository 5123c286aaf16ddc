package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/room4-2/liverelay/config"
	"github.com/room4-2/liverelay/functions"
	"github.com/room4-2/liverelay/gemini"
	"github.com/room4-2/liverelay/metrics"
	"github.com/room4-2/liverelay/server"
	"github.com/room4-2/liverelay/session"
)

const shutdownTimeout = 10 * time.Second

// httpServer is what main needs from the browser and telephony servers
type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile    string
		serverType string
		port       int
		twilioPort int
	)
	flagSet := pflag.NewFlagSet("liverelay", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load environment variables from this file before reading configuration")
	flagSet.StringVar(&serverType, "server-type", "", "websocket, twilio or both (overrides SERVER_TYPE)")
	flagSet.IntVar(&port, "port", 0, "browser server port (overrides PORT)")
	flagSet.IntVar(&twilioPort, "twilio-port", 0, "telephony server port when running both (overrides TWILIO_PORT)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flagSet.Changed("server-type") {
		cfg.ServerType = serverType
	}
	if flagSet.Changed("port") {
		cfg.Port = port
	}
	if flagSet.Changed("twilio-port") {
		cfg.TwilioPort = twilioPort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tools, err := functions.NewDefaultRegistry(cfg.KnowledgeText)
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	factory, err := gemini.NewFactory(ctx, gemini.Config{
		APIKey:       cfg.GeminiAPIKey,
		Model:        cfg.GeminiModel,
		SystemPrompt: cfg.SystemPrompt,
		VoiceName:    cfg.VoiceName,
		GoogleSearch: cfg.GoogleSearch,
		Tools:        tools,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	mt := metrics.NewMetrics("liverelay")
	sessionManager, err := session.NewManager(cfg, factory,
		session.WithMetrics(mt),
		session.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	go sessionManager.StartCleanupRoutine(ctx)

	var servers []httpServer
	switch cfg.ServerType {
	case "websocket":
		servers = append(servers, server.NewServerWebsocket(cfg, sessionManager, mt, logger))
	case "twilio":
		servers = append(servers, server.NewWebsocketTwilio(cfg, sessionManager, logger))
	case "both":
		servers = append(servers,
			server.NewServerWebsocket(cfg, sessionManager, mt, logger),
			server.NewWebsocketTwilio(cfg, sessionManager, logger),
		)
	default:
		return fmt.Errorf("unknown SERVER_TYPE: %s", cfg.ServerType)
	}

	logger.Info("starting",
		"server_type", cfg.ServerType,
		"model", cfg.GeminiModel,
		"max_sessions", cfg.MaxSessions,
		"tools", tools.Len(),
	)

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv httpServer) {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// sessions first: open event streams keep their HTTP handlers busy
	if err := sessionManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("session shutdown error", "error", err)
	}
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}

	logger.Info("server stopped")
	return runErr
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
