package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nexd-io/nexd/pkg/api"
	"github.com/nexd-io/nexd/pkg/config"
	"github.com/nexd-io/nexd/pkg/events"
	"github.com/nexd-io/nexd/pkg/export"
	"github.com/nexd-io/nexd/pkg/jsonrpc"
	"github.com/nexd-io/nexd/pkg/log"
	"github.com/nexd-io/nexd/pkg/metrics"
	"github.com/nexd-io/nexd/pkg/nexus"
	"github.com/nexd-io/nexd/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nexd",
	Short: "nexd - replicated block device daemon",
	Long: `nexd assembles logical block devices (nexuses) out of replica
children, mirroring writes across all of them and serving reads from the
healthiest one. A degraded replica set keeps serving I/O until the last
replica is gone.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"nexd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("socket", config.DefaultSocketPath, "Control socket path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(nexusCmd)
	rootCmd.AddCommand(childCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the nexd daemon",
	Long: `Run the nexd daemon: restore persisted nexuses, listen on the
control socket and serve prometheus metrics.

Configuration comes from the config file, overridden by NEXD_* environment
variables (a .env file in the working directory is honored).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// best effort, the daemon runs fine without one
		_ = godotenv.Load()

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("socket") {
			cfg.SocketPath, _ = cmd.Flags().GetString("socket")
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		registry := nexus.NewRegistry(nexus.RegistryConfig{
			Store:        store,
			Sink:         export.NewLoopbackSink(""),
			Broker:       broker,
			ChildTimeout: cfg.ChildTimeout,
		})
		if err := registry.Restore(cmd.Context()); err != nil {
			return fmt.Errorf("failed to restore nexuses: %w", err)
		}

		collector := metrics.NewCollector(registry)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()

		rpcSrv := jsonrpc.NewServer(cfg.SocketPath)
		api.NewService(registry).Register(rpcSrv)

		errCh := make(chan error, 1)
		go func() {
			if err := rpcSrv.Start(); err != nil {
				errCh <- fmt.Errorf("rpc server error: %w", err)
			}
		}()

		logger.Info().
			Str("socket", cfg.SocketPath).
			Str("metrics", cfg.MetricsAddr).
			Str("data_dir", cfg.DataDir).
			Msg("nexd started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("shutting down")
		}

		rpcSrv.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
		registry.Close(shutdownCtx)

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "/etc/nexd/nexd.yaml", "Config file path")
}

// socketPath resolves the control socket for client commands.
func socketPath(cmd *cobra.Command) string {
	sock, _ := cmd.Flags().GetString("socket")
	if env := os.Getenv("NEXD_SOCKET"); env != "" && !cmd.Flags().Changed("socket") {
		return env
	}
	return sock
}

// callCtx bounds one client RPC.
func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
