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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"esabot/internal/answer"
	"esabot/internal/chat"
	"esabot/internal/config"
	"esabot/internal/handlers"
	"esabot/internal/health"
	"esabot/internal/kb"
	"esabot/internal/logging"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "esabot",
	Short: "esabot - chat assistant backed by the esa knowledge base",
	Long: `esabot answers questions asked in chat using the team's esa articles and
turns reaction-tagged threads into draft articles.

Running without arguments starts the bot.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot and the probe HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	slackClient, err := chat.NewSlackClient(chat.SlackClientConfig{Token: cfg.Slack.BotToken})
	if err != nil {
		return err
	}

	esaClient, err := kb.NewClient(kb.ClientConfig{APIKey: cfg.Esa.APIKey, Team: cfg.Esa.Team})
	if err != nil {
		return err
	}
	esaService := kb.NewService(esaClient)

	answerService, err := answer.NewGeminiService(ctx, answer.GeminiConfig{
		APIKey:   cfg.Gemini.APIKey,
		Project:  cfg.Gemini.Project,
		Location: cfg.Gemini.Location,
		Model:    cfg.Gemini.Model,
	})
	if err != nil {
		return err
	}

	mentions := handlers.NewMentionHandler(slackClient, esaClient, esaService, answerService, logger, cfg.Slack.BotID)
	reactions := handlers.NewReactionHandler(slackClient, esaClient, esaClient, esaService, answerService, logger, cfg.Slack.BotID, cfg.Slack.TriggerReaction)
	events := handlers.NewEventRouter(mentions, reactions, logger)

	state := health.NewSocketState()
	monitor := health.StartMonitor(slackClient, state, cfg.PingInterval(), logger)
	defer monitor.Stop()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	health.Register(router, state, cfg.ReadinessGrace())
	events.Register(router)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("esabot listening",
			zap.String("addr", cfg.Addr()),
			zap.String("trigger_reaction", cfg.Slack.TriggerReaction),
			zap.String("version", version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "context cancelled"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

// requestLogger logs every HTTP request with its status and duration.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
