// Package main runs the couples diary sync daemon. The web shell talks to
// it over REST and WebSocket on localhost.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/config"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

type rootFlags struct {
	configPath string
	inMemory   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "diaryd",
		Short:         "Offline-first sync daemon for the couples diary",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (default <data_dir>/config.yaml)")
	root.PersistentFlags().BoolVar(&flags.inMemory, "in-memory", false, "keep records in memory instead of SQLite")

	root.AddCommand(
		newServeCmd(flags),
		newStatusCmd(flags),
		newSyncCmd(flags),
		newRetryCmd(flags),
		newClearCmd(flags),
		newExportCmd(flags),
		newLoginCmd(flags),
		newLogoutCmd(flags),
		newVersionCmd(),
	)
	return root
}

// loadApp reads configuration, initialises logging and wires the app.
func loadApp(ctx context.Context, flags *rootFlags, opts appOptions) (*App, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	initLogging(cfg)
	opts.inMemory = opts.inMemory || flags.inMemory
	return buildApp(ctx, cfg, opts)
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var devRemote bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local API, the network monitor and background sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, flags, appOptions{devRemote: devRemote})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireRemote(); err != nil {
				return fmt.Errorf("%w (or pass --dev-remote)", err)
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().BoolVar(&devRemote, "dev-remote", false, "serve an in-memory remote under /dev-remote and sync against it")
	return cmd
}

// serve runs the HTTP server and the monitor until ctx is cancelled.
func serve(ctx context.Context, a *App) error {
	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("HTTP server listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.monitor.Start(ctx)
		<-ctx.Done()

		logging.Info("Shutting down", nil)
		a.monitor.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "diaryd %s\n", version)
		},
	}
}
