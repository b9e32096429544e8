// Command devserver runs the portfolio API over plain HTTP for local
// development of the single-page app.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"portfolio-backend/handler"
	"portfolio-backend/internal/catalog"
	"portfolio-backend/internal/config"
	"portfolio-backend/internal/feed"
	"portfolio-backend/internal/integrations/gemini"
	"portfolio-backend/internal/integrations/github"
	"portfolio-backend/internal/usecase"
)

type options struct {
	Addr           string
	APIKey         string
	Owner          string
	Model          string
	AllowedOrigins []string
	Debug          bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve the portfolio API locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.APIKey == "" {
				opts.APIKey = os.Getenv("GEMINI_API_KEY")
			}
			if opts.APIKey == "" {
				return errors.New("an API key is required: pass --api-key or set GEMINI_API_KEY")
			}
			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "Gemini API key (defaults to $GEMINI_API_KEY)")
	cmd.Flags().StringVar(&opts.Owner, "owner", config.DefaultGitHubOwner, "GitHub account whose repositories feed the gallery")
	cmd.Flags().StringVar(&opts.Model, "model", gemini.DefaultModel, "Gemini model id")
	cmd.Flags().StringSliceVar(&opts.AllowedOrigins, "allowed-origin", []string{"http://localhost:5173"}, "Origins allowed by CORS")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	return cmd
}

func run(opts options) error {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	log, err := config.NewLogger(level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	h, err := newHandler(opts, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           newRouter(h, opts.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("listening", zap.String("addr", opts.Addr), zap.String("model", opts.Model))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("devserver: serve: %w", err)
	}
	return nil
}

func newHandler(opts options, log *zap.Logger) (*handler.Handler, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}
	factory, err := gemini.NewFactory(gemini.StaticKey(opts.APIKey), cat.Persona, gemini.WithModel(opts.Model))
	if err != nil {
		return nil, err
	}
	chatService, err := usecase.NewChatService(factory, usecase.WithChatLogger(log))
	if err != nil {
		return nil, err
	}
	aggregator, err := feed.NewAggregator(github.NewClient(github.WithTimeout(5*time.Second)), opts.Owner, feed.WithLogger(log))
	if err != nil {
		return nil, err
	}
	profileService, err := usecase.NewProfileService(cat.Profile, cat.Greeting)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(chatService, usecase.NewProjectService(cat.StaticProjects(), aggregator), profileService, handler.WithLogger(log))
}

func newRouter(h *handler.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
		ExposedHeaders: []string{"X-Correlation-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/projects", h.ServeHTTP)
	r.Get("/profile", h.ServeHTTP)
	r.Post("/chat", h.ServeHTTP)
	// The handler renders its own JSON 404/405 bodies.
	r.NotFound(h.ServeHTTP)
	r.MethodNotAllowed(h.ServeHTTP)
	return r
}
