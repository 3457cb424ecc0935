package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/store"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// DB is the optional database connection; nil when no database is configured
	DB *store.Store

	configPath string
	dbURL      string
	debug      bool
	threshold  float64
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "rollcall",
	Short:         "Face-recognition attendance with blink and motion liveness checks",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(debug); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		// Flags win over file and environment
		if dbURL != "" {
			Cfg.Database.URL = dbURL
		}
		if threshold > 0 {
			Cfg.Match.Threshold = threshold
		}

		if Cfg.Database.URL == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		logger.Sync()
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		// A missing .env is the normal case outside of docker compose
		_ = godotenv.Load()
	})

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file (default: rollcall.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL or POSTGRES_* env, else no database)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Float64VarP(&threshold, "threshold", "t", 0, "Face matching threshold, inclusive (default from config: 0.6)")
}
