// Package app assembles the cabinet from configuration for the server and CLI binaries.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/file-cabinet/internal/cabinet"
	"github.com/zombor/file-cabinet/internal/dedupe"
	"github.com/zombor/file-cabinet/internal/metrics"
	"github.com/zombor/file-cabinet/internal/scanning"
)

// ProviderConfig selects and authenticates the vision model backend
type ProviderConfig struct {
	Name            string // openai, gemini or ollama
	APIKey          string
	BaseURL         string
	ClassifierModel string
	ExtractionModel string
	FallbackModel   string
	ReasoningModels []string
	RateLimit       float64
	Timeout         time.Duration
}

// Config is everything Build needs
type Config struct {
	Company string

	DBDriver string // bolt or sqlite
	DBPath   string

	Storage     string // local or s3
	StoragePath string
	S3          cabinet.S3Config

	Provider ProviderConfig
	Render   scanning.RenderConfig
	Policy   dedupe.Policy
	Source   cabinet.Source
}

// modelDefaults are the classifier, extraction and fallback models per provider
var modelDefaults = map[string][3]string{
	"openai": {"o3", "o3", scanning.DefaultFallbackModel},
	"gemini": {"gemini-2.5-pro", "gemini-2.5-pro", "gemini-2.5-flash"},
	"ollama": {"qwen2.5vl", "qwen2.5vl", "llava"},
}

// DefaultConfig returns a local, OpenAI-backed configuration
func DefaultConfig() Config {
	gw := scanning.DefaultGatewayConfig()
	return Config{
		Company:     "My Company",
		DBDriver:    "bolt",
		DBPath:      "file-cabinet.db",
		Storage:     "local",
		StoragePath: "./files",
		S3:          cabinet.S3Config{Region: "us-east-1", UseSSL: true},
		Provider: ProviderConfig{
			Name:            "openai",
			ReasoningModels: gw.ReasoningModels,
			Timeout:         gw.Timeout,
		},
		Render: scanning.DefaultRenderConfig(),
		Policy: dedupe.DefaultPolicy(),
		Source: cabinet.SourceUpload,
	}
}

// SplitList parses a comma separated flag value
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// App is an assembled cabinet
type App struct {
	Service *cabinet.Service
	Metrics *metrics.Metrics

	db       cabinet.DB
	provider scanning.Provider
}

// Server returns the HTTP API for the app
func (a *App) Server() *cabinet.Server {
	return cabinet.NewServer(a.Service, a.Metrics.Handler())
}

// Close releases the database and the provider
func (a *App) Close() error {
	var firstErr error
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			firstErr = fmt.Errorf("closing provider: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	return firstErr
}

// Build opens storage, connects the provider and wires the ingestion service
func Build(ctx context.Context, cfg Config) (*App, error) {
	slog.Info("Initializing database...", "driver", cfg.DBDriver, "path", cfg.DBPath)
	db, err := OpenDB(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	slog.Info("Initializing storage...", "backend", cfg.Storage)
	store, err := OpenStorage(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Initializing vision provider...", "provider", cfg.Provider.Name)
	provider, err := NewProvider(cfg.Provider)
	if err != nil {
		db.Close()
		return nil, err
	}

	classifierModel, extractionModel, fallbackModel := resolveModels(cfg.Provider)

	m := metrics.New()
	gwCfg := scanning.DefaultGatewayConfig()
	gwCfg.FallbackModel = fallbackModel
	if cfg.Provider.ReasoningModels != nil {
		gwCfg.ReasoningModels = cfg.Provider.ReasoningModels
	}
	if cfg.Provider.Timeout > 0 {
		gwCfg.Timeout = cfg.Provider.Timeout
	}
	gwCfg.RateLimit = cfg.Provider.RateLimit

	gateway := scanning.NewGateway(provider, gwCfg, m)
	scanner := scanning.NewVisionScanner(gateway, classifierModel, extractionModel, cfg.Company)
	renderer := scanning.NewRenderer(cfg.Render)

	service := cabinet.NewService(db, store, renderer, scanner, cabinet.Options{
		Company: cfg.Company,
		Policy:  cfg.Policy,
		Source:  cfg.Source,
		Metrics: m,
	})

	slog.Info("Cabinet ready",
		"company", cfg.Company,
		"classifier_model", classifierModel,
		"extraction_model", extractionModel,
		"fallback_model", fallbackModel,
	)
	return &App{Service: service, Metrics: m, db: db, provider: provider}, nil
}

func resolveModels(p ProviderConfig) (string, string, string) {
	defaults := modelDefaults[p.Name]
	classifier, extraction, fallback := p.ClassifierModel, p.ExtractionModel, p.FallbackModel
	if classifier == "" {
		classifier = defaults[0]
	}
	if extraction == "" {
		extraction = defaults[1]
	}
	if fallback == "" {
		fallback = defaults[2]
	}
	return classifier, extraction, fallback
}

// OpenDB opens the metadata store named by driver
func OpenDB(driver, path string) (cabinet.DB, error) {
	switch driver {
	case "", "bolt":
		db, err := cabinet.NewBoltDB(path)
		if err != nil {
			return nil, fmt.Errorf("opening bolt database: %w", err)
		}
		return db, nil
	case "sqlite":
		db, err := cabinet.NewSQLiteDB(path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown database driver %q (want bolt or sqlite)", driver)
}

// OpenStorage opens the file store named by cfg.Storage
func OpenStorage(ctx context.Context, cfg Config) (cabinet.Storage, error) {
	switch cfg.Storage {
	case "", "local":
		store, err := cabinet.NewLocalStorage(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("opening local storage: %w", err)
		}
		return store, nil
	case "s3":
		store, err := cabinet.NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("opening s3 storage: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q (want local or s3)", cfg.Storage)
}

// NewProvider constructs the vision model client named by p.Name
func NewProvider(p ProviderConfig) (scanning.Provider, error) {
	switch p.Name {
	case "openai":
		provider, err := scanning.NewOpenAI(p.APIKey, p.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("initializing openai: %w", err)
		}
		return provider, nil
	case "gemini":
		provider, err := scanning.NewGemini(p.APIKey)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return provider, nil
	case "ollama":
		provider, err := scanning.NewOllama(p.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return provider, nil
	}
	return nil, fmt.Errorf("unknown provider %q (want openai, gemini or ollama)", p.Name)
}

// SetupLogging installs the default slog handler
func SetupLogging(w io.Writer, format, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
