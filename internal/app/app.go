package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"merchant-status-alerts/internal/alerting"
	"merchant-status-alerts/internal/config"
	"merchant-status-alerts/internal/fetcher"
	"merchant-status-alerts/internal/httpapi"
	"merchant-status-alerts/internal/scheduler"
	"merchant-status-alerts/internal/service"
	"merchant-status-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher(ctx context.Context) (fetcher.StatusFetcher, error) {
	client, err := fetcher.NewAuthClient(ctx, a.Config.Merchant.CredentialsFile, a.Config.Merchant.RequestTimeout)
	if err != nil {
		return nil, err
	}

	return fetcher.NewMerchant(fetcher.MerchantOptions{
		BaseURL:    a.Config.Merchant.BaseURL,
		AccountID:  a.Config.Merchant.AccountID,
		PageSize:   a.Config.Merchant.PageSize,
		Timeout:    a.Config.Merchant.RequestTimeout,
		UserAgent:  a.Config.Merchant.UserAgent,
		MaxRetries: a.Config.Merchant.MaxRetries,
	}, client, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Email.Enabled {
		cfg := a.Config.Alerting.Email
		return alerting.NewEmailNotifier(cfg.APIKey, cfg.From, cfg.APIBase, cfg.RequestTimeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newRunner(store *storage.Store, statusFetcher fetcher.StatusFetcher, notifier alerting.Notifier) *service.Runner {
	var checks storage.CheckStore
	var emails storage.EmailAlertStore
	if store != nil {
		checks = store
		emails = store
	}
	return service.New(a.Config, statusFetcher, checks, emails, notifier, a.Logger)
}

// Run executes the long-running monitoring service: the periodic check loop
// plus, when enabled, the embedded HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	statusFetcher, err := a.newFetcher(ctx)
	if err != nil {
		return err
	}
	notifier := a.newNotifier()
	if notifier == nil && a.Config.Alerting.Enabled {
		a.Logger.Warn().Msg("alerting enabled without an email transport; alerts will be logged only")
	}

	runner := a.newRunner(store, statusFetcher, notifier)

	country := a.Config.Alerting.Country
	reportingContext := a.Config.Alerting.ReportingContext

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunAtStart:   a.Config.Scheduler.RunAtStart,
	}, a.Logger)

	errCh := make(chan error, 2)

	var httpServer *http.Server
	if a.Config.HTTP.Enabled {
		api := httpapi.New(runner, country, reportingContext, a.Logger)
		httpServer = &http.Server{
			Addr:              a.Config.HTTP.ListenAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Logger.Info().Str("addr", httpServer.Addr).Msg("http api listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	go func() {
		errCh <- sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
			_, err := runner.RunCheck(ctx, country, reportingContext)
			if errors.Is(err, service.ErrCheckInFlight) {
				a.Logger.Warn().Msg("previous check still running; skipping this interval")
				return nil
			}
			return err
		})
	}()

	a.Logger.Info().
		Str("country", country).
		Str("reporting_context", reportingContext).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting monitoring service")

	err = <-errCh

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			a.Logger.Error().Err(shutdownErr).Msg("http shutdown failed")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting check history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Emails bool
}
