package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/commandlog"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/distlock"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/topology"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
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
	Use:   "burrow",
	Short: "Burrow - Crash-safe balancer command scheduler",
	Long: `Burrow dispatches range rebalancing commands to the shards of a
sharded cluster. Every command is persisted before dispatch, so commands
in flight when the process dies are re-issued on the next start.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().StringP("config", "c", "", "Path to config file")
	serveCmd.Flags().String("data-dir", "", "Override data directory")
	serveCmd.Flags().String("listen-addr", "", "Override admin API address")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the balancer scheduler and admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
			cfg.DataDir = dataDir
		}
		if listenAddr, _ := cmd.Flags().GetString("listen-addr"); listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.Format == "json",
		})
		logger := log.WithComponent("main")

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data dir: %v", err)
		}
		cmdLog, err := commandlog.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer cmdLog.Close()

		registry := topology.NewRegistry()
		for id, host := range cfg.Shards {
			registry.Add(types.ShardID(id), host)
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		sched := scheduler.New(scheduler.Config{
			Log:         cmdLog,
			Locks:       distlock.NewLocalManager(),
			Resolver:    registry,
			Remote:      executor.NewHTTPExecutor(cfg.Scheduler.CommandTimeout),
			Broker:      broker,
			MaxInFlight: cfg.Scheduler.MaxInFlight,
			LockTimeout: cfg.Scheduler.LockTimeout,
		})
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %v", err)
		}
		logger.Info().Str("data_dir", cfg.DataDir).Msg("scheduler started")

		apiServer := api.NewServer(sched, registry)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("admin API error: %v", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("admin API failed")
		}

		apiServer.Stop()
		sched.Stop()
		logger.Info().Msg("shutdown complete")
		return nil
	},
}
