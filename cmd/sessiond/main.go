package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-token-authority/internal/config"
	"github.com/sandeepkv93/session-token-authority/internal/database"
	"github.com/sandeepkv93/session-token-authority/internal/di"
	"github.com/sandeepkv93/session-token-authority/internal/http/handler"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "Session token authority",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newReapCommand(), newRevokeUserCommand(), newVersionCommand())
	return cmd
}

func buildInfo() handler.BuildInfo {
	return handler.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, cleanup, err := di.InitializeApp(cmd.Context(), cfg, buildInfo())
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			return a.Run(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.UsesDatabase() {
				return fmt.Errorf("migrate: no store uses the %q backend", config.StoreBackendDatabase)
			}
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.Migrate(cmd.Context(), db, cfg.DatabaseDriver); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}

func newReapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired refresh tokens and revocation entries once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			reaper, cleanup, err := di.InitializeReaper(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize reaper: %w", err)
			}
			defer cleanup()
			res, err := reaper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refresh_tokens=%d revocations=%d\n", res.RefreshTokens, res.Revocations)
			return nil
		},
	}
}

func newRevokeUserCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-user <user-id>",
		Short: "Revoke every refresh token held by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sessions, cleanup, err := di.InitializeSessionManager(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize session manager: %w", err)
			}
			defer cleanup()
			n, err := sessions.RevokeUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refresh_tokens_revoked=%d\n", n)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			b := buildInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (commit %s, built %s)\n", b.Version, b.Commit, b.BuildDate)
		},
	}
}
