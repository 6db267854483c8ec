// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sigil/sigil/internal/config"
	"github.com/sigil/sigil/internal/httpapi"
	"github.com/sigil/sigil/internal/identity"
	"github.com/sigil/sigil/internal/identity/memory"
	"github.com/sigil/sigil/internal/identity/postgres"
	"github.com/sigil/sigil/internal/logging"
	"github.com/sigil/sigil/internal/mailer"
	"github.com/sigil/sigil/internal/observability"
)

// shutdownTimeout bounds graceful shutdown of both HTTP servers.
const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API server",
		Long: `Start the account API server together with the metrics and health
endpoints. Configuration comes from defaults, then the --config file,
then flags.`,
		RunE: runServe,
	}

	// Flag names mirror the config file keys so both layers address the
	// same settings.
	def := config.Default()
	flags := cmd.Flags()
	flags.String("listen", def.Listen, "account API listen address")
	flags.String("metrics_listen", def.MetricsListen, "metrics/health listen address")
	flags.String("base_url", def.BaseURL, "public base URL for links in mails")
	flags.String("database_url", "", "PostgreSQL DSN (empty = in-memory store)")
	flags.String("log_format", def.LogFormat, "log format (json or text)")
	flags.String("token.secret", "", "secret for signing confirmation and reset tokens")
	flags.Duration("token.confirmation_ttl", def.Token.ConfirmationTTL, "email confirmation token lifetime")
	flags.Duration("token.reset_ttl", def.Token.ResetTTL, "password reset token lifetime")
	flags.Bool("security.merge_login_errors", false, "hide whether a login failure was the email or the password")
	flags.Int("security.lockout_threshold", def.Security.LockoutThreshold, "failed logins before lockout (0 = disabled)")
	flags.Duration("security.lockout_duration", def.Security.LockoutDuration, "how long a locked account stays locked")
	flags.String("smtp.host", "", "SMTP host (empty = log notifications instead of sending)")
	flags.Int("smtp.port", def.SMTP.Port, "SMTP port")
	flags.String("smtp.from", "", "From address for outbound mail")
	flags.String("smtp.username", "", "SMTP username")
	flags.String("smtp.password", "", "SMTP password")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger := logging.Setup("sigil", version, logging.Options{Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hasher := identity.NewArgon2idHasher()

	store, cleanup, err := buildStore(ctx, cfg, hasher, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	tokens, err := identity.NewTokenService([]byte(cfg.Token.Secret), identity.TokenTTL{
		EmailConfirmation: cfg.Token.ConfirmationTTL,
		PasswordReset:     cfg.Token.ResetTTL,
	})
	if err != nil {
		return err
	}

	sessions, err := identity.NewSessionManager(memory.NewSessionStore())
	if err != nil {
		return err
	}

	links, err := identity.NewLinkBuilder(cfg.BaseURL)
	if err != nil {
		return err
	}

	var ready atomic.Bool
	obs := observability.NewServer(cfg.MetricsListen, ready.Load)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	instrumented := observability.NewInstrumentedNotifier(notifier, obs.Metrics())

	opts := []identity.AccountOption{
		identity.WithLogger(logger),
		identity.WithLockoutPolicy(identity.LockoutPolicy{
			Threshold: cfg.Security.LockoutThreshold,
			Duration:  cfg.Security.LockoutDuration,
		}),
	}
	if cfg.Security.MergeLoginErrors {
		opts = append(opts, identity.WithMergedLoginErrors())
	}

	accounts, err := identity.NewAccountService(store, hasher, tokens, sessions, instrumented, links, opts...)
	if err != nil {
		return err
	}

	api, err := httpapi.NewServer(cfg.Listen, accounts, sessions, obs.Metrics(), logger)
	if err != nil {
		return err
	}

	obsErrCh, err := obs.Start()
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
	}

	apiErrCh, err := api.Start()
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = obs.Stop(shutdownCtx) //nolint:errcheck // startup error takes precedence
		return oops.Code("SERVE_FAILED").With("operation", "start account API server").Wrap(err)
	}
	ready.Store(true)

	logger.Info("sigil started",
		"listen", api.Addr(),
		"metrics_listen", obs.Addr(),
		"store", storeKind(cfg),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-apiErrCh:
		if err != nil {
			logger.Error("account API server failed", "error", err)
		}
	case err := <-obsErrCh:
		if err != nil {
			logger.Error("observability server failed", "error", err)
		}
	}

	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Stop(shutdownCtx); err != nil {
		logger.Error("stopping account API server", "error", err)
	}
	if err := obs.Stop(shutdownCtx); err != nil {
		logger.Error("stopping observability server", "error", err)
	}
	return nil
}

// buildStore selects the user store: PostgreSQL when a DSN is configured,
// in-memory otherwise. The returned cleanup closes the pool if one was
// opened.
func buildStore(ctx context.Context, cfg config.Config, hasher identity.PasswordHasher, logger *slog.Logger) (identity.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database_url configured, using in-memory store; all accounts are lost on restart")
		store, err := memory.NewUserStore(hasher)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.NewUserStore(pool, hasher)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

// buildNotifier selects the mail transport: SMTP when a host is configured,
// log-only otherwise.
func buildNotifier(cfg config.Config, logger *slog.Logger) (identity.Notifier, error) {
	if cfg.SMTP.Host == "" {
		logger.Warn("no smtp.host configured, notifications go to the log")
		return identity.NewLogNotifier(logger), nil
	}
	return mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		From:     cfg.SMTP.From,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})
}

func storeKind(cfg config.Config) string {
	if cfg.DatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}
