package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/server"
	"github.com/andresmejia3/rollcall/internal/utils"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recognition API for uploaded frames",
	Long: `Starts an HTTP server that accepts image uploads on POST /api/uploads.
Each upload is run through the recognition pipeline; clients that send
an X-Session-ID header get liveness tracked across their frames.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Interface to listen on (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config: "+strconv.Itoa(config.Default().Server.Port)+")")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if serveHost != "" {
		Cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		Cfg.Server.Port = servePort
	}

	eng, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := server.New(server.Config{
		Host:           Cfg.Server.Host,
		Port:           Cfg.Server.Port,
		MaxUploadBytes: Cfg.Server.MaxUploadBytes,
		Liveness:       livenessOptions(),
	}, eng.pipeline, eng.recorder)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	fmt.Fprintf(os.Stderr, "🌐 Listening on %s:%d\n", Cfg.Server.Host, Cfg.Server.Port)

	select {
	case err := <-errCh:
		if err != nil {
			utils.ShowError("Server failed", err, nil)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ShowError("Server shutdown failed", err, nil)
		return err
	}
	fmt.Fprintln(os.Stderr, "👋 Server stopped.")
	return nil
}
