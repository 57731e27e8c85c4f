// Command nurturectl runs one-off operator actions against the nurture store
// and queue. Jobs it enqueues are executed by the API server's workers, so it
// needs a persistent queue backend (postgres:// or amqp://). With amqp the
// job index lives in DATABASE_URL, which is how stop-campaign and the job
// listings see jobs the server published.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/app"
	"github.com/xavierca1/lead-nurture/internal/config"
	"github.com/xavierca1/lead-nurture/internal/infra/logger"
)

var (
	configPath string
	verbose    bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "nurturectl",
	Short:         "Operate the lead nurture service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $NURTURE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Operation timeout")

	rootCmd.AddCommand(syncContactCmd)
	rootCmd.AddCommand(startCampaignCmd)
	rootCmd.AddCommand(stopCampaignCmd)
	rootCmd.AddCommand(pendingJobsCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// withApp builds the application graph, runs fn and tears everything down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if a.Queue.Backend() == "memory" {
		log.Warn("queue backend is in-memory; enqueued jobs are lost when nurturectl exits")
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}
