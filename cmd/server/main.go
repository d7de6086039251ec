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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"spl-copilot/internal/api"
	"spl-copilot/internal/config"
	"spl-copilot/internal/history"
	"spl-copilot/internal/monitor"
	"spl-copilot/internal/pipeline"
	"spl-copilot/internal/splunk"
	"spl-copilot/internal/storage"
	"spl-copilot/internal/translate"
	"spl-copilot/internal/validate"
)

var version = "dev"

// unavailableModel stands in when no generation-service key is
// configured. Raw search, history and health keep working; the
// generation endpoints fail with a clear error.
type unavailableModel struct{}

func (unavailableModel) Translate(context.Context, string, *pipeline.SearchContext) (pipeline.StructuredQuery, error) {
	return pipeline.StructuredQuery{}, fmt.Errorf("%w: generation service not configured", pipeline.ErrTranslationFailed)
}

func (unavailableModel) Enhance(context.Context, string, string) (pipeline.StructuredQuery, string, error) {
	return pipeline.StructuredQuery{}, "", fmt.Errorf("%w: generation service not configured", pipeline.ErrTranslationFailed)
}

func (unavailableModel) Suggest(context.Context, pipeline.SuggestionContext) []string {
	return translate.CatalogSuggestions("")
}

func nilSafeTranslator(c *translate.Client) pipeline.Translator {
	if c == nil {
		return unavailableModel{}
	}
	return c
}

func nilSafeEnhancer(c *translate.Client) pipeline.Enhancer {
	if c == nil {
		return unavailableModel{}
	}
	return c
}

func nilSafeSuggester(c *translate.Client) pipeline.Suggester {
	if c == nil {
		return unavailableModel{}
	}
	return c
}

func main() {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:   "spl-copilot-server",
		Short: "Natural-language to SPL query service",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(debug)
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func run(configPath string) error {
	// Optional .env for local development; ignored when absent.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	metrics := monitor.NewMetrics()

	backend := splunk.NewClient(splunk.Config{
		Host:               cfg.Splunk.Host,
		Port:               cfg.Splunk.Port,
		Scheme:             cfg.Splunk.Scheme,
		Token:              cfg.Splunk.Token,
		Username:           cfg.Splunk.Username,
		Password:           cfg.Splunk.Password,
		PollInterval:       cfg.Splunk.PollInterval,
		IndexCacheTTL:      cfg.Splunk.IndexCacheTTL,
		InsecureSkipVerify: cfg.Splunk.InsecureSkipVerify,
	})
	executor := splunk.NewExecutor(backend, metrics)

	validator := validate.New(cfg.Pipeline.DefaultMaxResults)
	store := history.New(cfg.History.Capacity, metrics)

	var translator *translate.Client
	if cfg.LLM.APIKey != "" {
		translator, err = translate.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, metrics, translate.Options{
			MaxRetries:  cfg.LLM.MaxRetries,
			BackoffBase: cfg.LLM.BackoffBase,
			CallTimeout: cfg.LLM.CallTimeout,
			Lookback:    cfg.Pipeline.DefaultLookback,
		})
		if err != nil {
			return err
		}
	}

	var audit pipeline.AuditLogger
	var auditStore api.AuditStore
	var writer *storage.AuditWriter
	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, dbErr := storage.New(ctx, cfg.Database.DSN)
		if dbErr != nil {
			cancel()
			return dbErr
		}
		if schemaErr := db.EnsureSchema(ctx); schemaErr != nil {
			cancel()
			return schemaErr
		}
		cancel()
		defer db.Close()

		writer = storage.NewAuditWriter(db, 10000)
		writer.Start()
		audit = writer
		auditStore = db
		log.Info().Msg("durable outcome audit enabled")
	}

	orch := pipeline.NewOrchestrator(
		nilSafeTranslator(translator),
		nilSafeEnhancer(translator),
		nilSafeSuggester(translator),
		validator,
		executor,
		store,
		backend,
		audit,
		metrics,
		pipeline.Options{
			DefaultMaxResults: cfg.Pipeline.DefaultMaxResults,
			DefaultTimeout:    cfg.Pipeline.DefaultTimeout,
			MaxTimeout:        cfg.Pipeline.MaxTimeout,
		},
	)

	server := api.NewServer(cfg, orch, backend, auditStore, metrics, version, translator != nil)

	errCh := make(chan error, 1)
	go func() {
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if writer != nil {
		writer.Flush(5 * time.Second)
	}
	log.Info().Msg("server stopped")
	return nil
}
