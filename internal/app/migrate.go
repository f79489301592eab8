package app

import (
	"context"
	"errors"

	"merchant-status-alerts/internal/storage"
)

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn must be configured to migrate")
	}

	a.Logger.Info().Msg("applying schema migrations")
	if err := storage.Migrate(ctx, a.Config.Database.DSN); err != nil {
		return err
	}
	a.Logger.Info().Msg("schema is up to date")
	return nil
}
