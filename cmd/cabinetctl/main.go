package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zombor/file-cabinet/internal/app"
	"github.com/zombor/file-cabinet/internal/cabinet"
)

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	company     string
	dbDriver    string
	dbPath      string
	storage     string
	storagePath string
	provider    string
	apiKey      string
	baseURL     string
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cabinetctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	defaults := app.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "cabinetctl",
		Short: "File cabinet command line client",
		Long: `cabinetctl files documents into the cabinet from the command line. It opens the same
database and file store as the server, so stop the server before using a bolt database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.SetupLogging(cmd.ErrOrStderr(), "text", opts.logLevel)
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.company, "company", envOr("FILE_CABINET_COMPANY", defaults.Company), "Business the cabinet files documents for")
	flags.StringVar(&opts.dbDriver, "db-driver", envOr("FILE_CABINET_DB_DRIVER", defaults.DBDriver), "Database driver: bolt or sqlite")
	flags.StringVar(&opts.dbPath, "db", envOr("FILE_CABINET_DB", defaults.DBPath), "Database file path")
	flags.StringVar(&opts.storage, "storage", envOr("FILE_CABINET_STORAGE", defaults.Storage), "File storage: local or s3")
	flags.StringVar(&opts.storagePath, "storage-path", envOr("FILE_CABINET_STORAGE_PATH", defaults.StoragePath), "Storage directory path")
	flags.StringVarP(&opts.provider, "provider", "p", envOr("FILE_CABINET_PROVIDER", defaults.Provider.Name), "Vision provider: openai, gemini or ollama")
	flags.StringVar(&opts.apiKey, "api-key", "", "Provider API key (defaults to OPENAI_API_KEY or GEMINI_API_KEY)")
	flags.StringVar(&opts.baseURL, "base-url", envOr("FILE_CABINET_BASE_URL", ""), "Provider base URL")
	flags.StringVar(&opts.logLevel, "log-level", envOr("FILE_CABINET_LOG_LEVEL", "warn"), "Log level: debug, info, warn or error")

	cmd.AddCommand(
		newIngestCmd(opts),
		newDupCheckCmd(opts),
		newRecordsCmd(opts),
		newExportCmd(opts),
		newBillsCmd(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// config turns the persistent flags into an app configuration
func (o *rootOptions) config() app.Config {
	cfg := app.DefaultConfig()
	cfg.Company = o.company
	cfg.DBDriver = o.dbDriver
	cfg.DBPath = o.dbPath
	cfg.Storage = o.storage
	cfg.StoragePath = o.storagePath
	cfg.Source = cabinet.SourceCLI
	cfg.Provider.Name = o.provider
	cfg.Provider.BaseURL = o.baseURL
	cfg.Provider.APIKey = o.apiKey
	if cfg.Provider.APIKey == "" {
		switch o.provider {
		case "openai":
			cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			cfg.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	return cfg
}

// withApp builds the cabinet, runs fn and closes it again
func withApp(ctx context.Context, opts *rootOptions, fn func(*cabinet.Service) error) error {
	a, err := app.Build(ctx, opts.config())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.Service)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
