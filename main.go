package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "graph-relay",
		Short:         "Relay Microsoft Graph change notifications to browsers",
		Long:          "graph-relay signs users in with Microsoft, manages their mail and Teams subscriptions, and streams incoming change notifications to the browser over Server-Sent Events.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.New(), configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, newLogger(cfg, cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, json, toml or env)")
	cmd.Flags().String("port", "3000", "listen port or host:port")
	cmd.Flags().String("webhook_url", "", "public base URL the provider posts notifications to")
	cmd.Flags().String("client_state_policy", config.ClientStateWarn, "clientState mismatch policy: warn or reject")
	cmd.Flags().String("nats_url", "", "mirror push events to this NATS server")
	cmd.Flags().Bool("debug_endpoints", false, "expose /debug/test-event")
	cmd.Flags().String("log_level", "info", "trace, debug, info, warn or error")
	cmd.Flags().String("log_format", "console", "console or json")
	return cmd
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
