package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/danmuck/indexd/internal/logging"
	"github.com/danmuck/indexd/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const configEnv = "INDEXD_CONFIG"

func main() {
	logging.ConfigureRuntime()
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Str("component", "indexd").Err(err).Msg("indexd exited")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "indexd <port>",
		Short: "Indexing and search server driven over one framed connection",
		Long: `indexd dials the launcher on the given loopback port and serves
project lookup, path matching and text search requests until the
connection closes.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			if configPath == "" {
				configPath = strings.TrimSpace(os.Getenv(configEnv))
			}
			return run(cmd.Context(), port, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (env "+configEnv+")")
	cmd.AddCommand(newConfigCommand())
	return cmd
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	return port, nil
}

func run(parent context.Context, port int, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := server.DefaultConfig()
	if configPath != "" {
		loaded, err := loadServerConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	log.Info().Str("component", "indexd").Int("port", port).Str("config", configPath).Msg("indexd starting")
	return srv.Run(ctx, port)
}
