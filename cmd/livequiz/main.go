package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("main: load .env failed", "error", err)
	}

	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:           "livequiz",
		Short:         "Run live multi-player quiz sessions over websockets.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(path)
			if err != nil {
				return err
			}
			return run(cmd.Context(), c)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", os.Getenv("CONFIG_PATH"), "path to the config file (env: CONFIG_PATH); keys can be overridden as LIVEQUIZ_<SECTION>_<KEY>")
	cmd.CompletionOptions.HiddenDefaultCmd = true

	return cmd
}

func run(ctx context.Context, c server.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	s, err := server.Init(ctx, c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return <-errc
	case err := <-errc:
		s.Shutdown()
		return err
	}
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if path == "" {
		slog.Warn("main: no config file, running on defaults and environment")
	}

	if err := config.Load(path, &c, config.WithEnvPrefix("LIVEQUIZ")); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
