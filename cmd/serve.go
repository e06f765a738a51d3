package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"linerelay/pkg/config"
	"linerelay/pkg/gateway"
	"linerelay/pkg/logger"
	"linerelay/pkg/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	portFlag   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long:  "Serves the LINE webhook and health endpoints until interrupted, then drains in-flight events.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = portFlag
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		if cfg.Tracing.Enabled {
			shutdownTracer, err := telemetry.InitTracer(cfg.Tracing.ServiceName, log)
			if err != nil {
				return fmt.Errorf("initialize tracing: %w", err)
			}
			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					log.Warn("Failed to flush traces", "error", err)
				}
			}()
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps, err := gateway.BuildDependencies(cfg, appLogger)
		if err != nil {
			return err
		}

		svc, err := gateway.NewService(runCtx, cfg, deps, appLogger)
		if err != nil {
			return fmt.Errorf("initialize gateway service: %w", err)
		}

		log.Info("Gateway started", "channels", enabledChannels(cfg), "model", cfg.OpenAI.Model, "port", cfg.Server.Port)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Gateway runtime failed", "error", err)
			return err
		}

		log.Info("Gateway stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (defaults to $LINERELAY_CONFIG)")
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", config.DefaultPort, "port to listen on, overriding PORT")
	serveCmd.SilenceUsage = true
}

func enabledChannels(cfg *config.Config) string {
	names := []string{"line"}
	if cfg.Telegram.Token != "" {
		names = append(names, "telegram")
	}

	return strings.Join(names, ",")
}
