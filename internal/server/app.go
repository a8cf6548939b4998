// Package server initializes and runs the authentication server.
// It wires the credential store, both auth providers, the selector and
// the HTTP transport, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shigotoin/authcore/internal/logging"
	"github.com/shigotoin/authcore/internal/server/auth"
	"github.com/shigotoin/authcore/internal/server/config"
	"github.com/shigotoin/authcore/internal/server/email"
	"github.com/shigotoin/authcore/internal/server/httpapi"
	"github.com/shigotoin/authcore/internal/server/repositories/repomanager"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	api    *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	awsCfg, err := auth.LoadAWSConfig(ctx, cfg.CognitoRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("aws config error: %w", err)
	}

	mailer := email.NewSESSender(awsCfg, cfg.EmailFrom, cfg.EmailConfigSet)
	codec := auth.NewTokenCodec([]byte(cfg.SecretKey), cfg.AccessTokenValidity)

	local := auth.NewLocalProvider(db, repos, codec, mailer, auth.LocalProviderOptions{
		ResetTemplate:             cfg.ResetEmailTemplate,
		ChallengeValidity:         cfg.ChallengeValidity,
		TemporaryPasswordValidity: cfg.TemporaryPasswordValidity,
	}, logger)

	federated := auth.NewFederatedProvider(awsCfg, mailer, auth.FederatedProviderOptions{
		Region:        cfg.CognitoRegion,
		UserPoolID:    cfg.CognitoUserPoolID,
		ClientID:      cfg.CognitoClientID,
		ResetTemplate: cfg.ResetEmailTemplate,
	}, logger)

	selector := auth.NewSelector(db, repos, local, federated)
	api := httpapi.NewServer(db, repos, selector, cfg.SecureCookie, logger)

	return &App{config: cfg, logger: logger, db: db, api: api}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	mux := http.NewServeMux()
	app.api.Routes(mux)

	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "server error", "error", err)
		}
	case <-ctx.Done():
		app.logger.Info(ctx, "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "shutdown error", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
