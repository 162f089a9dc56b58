package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/file-cabinet/internal/app"
	"github.com/zombor/file-cabinet/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	defaults := app.DefaultConfig()
	render := scanning.DefaultRenderConfig()

	fs := ff.NewFlagSet("file-cabinet")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		logFormat       = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		logLevel        = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		company         = fs.StringLong("company", defaults.Company, "Business the cabinet files documents for")
		dbDriver        = fs.StringLong("db-driver", defaults.DBDriver, "Database driver: 'bolt' or 'sqlite'")
		dbPath          = fs.StringLong("db", defaults.DBPath, "Database file path")
		storageType     = fs.StringLong("storage", defaults.Storage, "File storage: 'local' or 's3'")
		storagePath     = fs.StringLong("storage-path", defaults.StoragePath, "Storage directory path")
		s3Endpoint      = fs.StringLong("s3-endpoint", "", "S3 endpoint host:port")
		s3AccessKey     = fs.StringLong("s3-access-key", "", "S3 access key")
		s3SecretKey     = fs.StringLong("s3-secret-key", "", "S3 secret key")
		s3Bucket        = fs.StringLong("s3-bucket", "file-cabinet", "S3 bucket name")
		s3Region        = fs.StringLong("s3-region", defaults.S3.Region, "S3 region")
		s3Insecure      = fs.BoolLong("s3-insecure", "Connect to S3 over plain HTTP")
		provider        = fs.StringLong("provider", defaults.Provider.Name, "Vision provider: 'openai', 'gemini' or 'ollama'")
		apiKey          = fs.StringLong("api-key", "", "Provider API key (or set OPENAI_API_KEY / GEMINI_API_KEY)")
		baseURL         = fs.StringLong("base-url", "", "Provider base URL (OpenAI-compatible or Ollama)")
		classifierModel = fs.StringLong("classifier-model", "", "Model used to classify documents (provider default when empty)")
		extractionModel = fs.StringLong("extraction-model", "", "Model used to extract fields (provider default when empty)")
		fallbackModel   = fs.StringLong("fallback-model", "", "Model retried once when a request is rejected")
		reasoningModels = fs.StringLong("reasoning-models", strings.Join(scanning.DefaultReasoningModels, ","), "Comma separated model prefixes that reject temperature")
		rateLimit       = fs.Float64Long("rate-limit", 0, "Vision model calls per second, 0 for no limit")
		modelTimeout    = fs.DurationLong("model-timeout", defaults.Provider.Timeout, "Timeout for each vision model call")
		maxPages        = fs.IntLong("max-pages", render.MaxPages, "Pages rendered per PDF")
		dpi             = fs.IntLong("dpi", render.DPI, "PDF render resolution")
		maxWidth        = fs.IntLong("max-width", render.MaxWidth, "Maximum page width in pixels")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FILE_CABINET"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := app.SetupLogging(os.Stderr, *logFormat, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	key := *apiKey
	if key == "" {
		switch *provider {
		case "openai":
			key = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			key = os.Getenv("GEMINI_API_KEY")
		}
	}

	cfg := defaults
	cfg.Company = *company
	cfg.DBDriver = *dbDriver
	cfg.DBPath = *dbPath
	cfg.Storage = *storageType
	cfg.StoragePath = *storagePath
	cfg.S3.Endpoint = *s3Endpoint
	cfg.S3.AccessKey = *s3AccessKey
	cfg.S3.SecretKey = *s3SecretKey
	cfg.S3.Bucket = *s3Bucket
	cfg.S3.Region = *s3Region
	cfg.S3.UseSSL = !*s3Insecure
	cfg.Provider = app.ProviderConfig{
		Name:            *provider,
		APIKey:          key,
		BaseURL:         *baseURL,
		ClassifierModel: *classifierModel,
		ExtractionModel: *extractionModel,
		FallbackModel:   *fallbackModel,
		ReasoningModels: app.SplitList(*reasoningModels),
		RateLimit:       *rateLimit,
		Timeout:         *modelTimeout,
	}
	cfg.Render.MaxPages = *maxPages
	cfg.Render.DPI = *dpi
	cfg.Render.MaxWidth = *maxWidth

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	cabinet, err := app.Build(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cabinet.Close()

	server := cabinet.Server()

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
