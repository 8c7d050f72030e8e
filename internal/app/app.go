/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package app

import (
	"context"
	"fmt"

	"github.com/HamedShams/timepulse/internal/adapters/linear"
	"github.com/HamedShams/timepulse/internal/adapters/telegram"
	"github.com/HamedShams/timepulse/internal/adapters/toggl"
	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/repo"
	"github.com/HamedShams/timepulse/internal/services"
	"github.com/rs/zerolog"
)

// App holds the wired pipeline and the resources it owns.
type App struct {
	DB      *repo.DB
	Repo    *repo.Repository
	Service *services.Service
}

// Build opens the database, applies the schema and wires the pipeline.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	db, err := repo.Open(ctx, cfg.DBDSN, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	repository := repo.NewRepository(db, log)

	var notifier services.Notifier
	if tg := telegram.NewClient(cfg, log); tg.Enabled() && len(cfg.TelegramChatIDs) > 0 {
		notifier = tg
	}
	svc := services.New(cfg, log,
		linear.NewClient(cfg, log),
		toggl.NewClient(cfg, log),
		repository, repository, notifier)
	return &App{DB: db, Repo: repository, Service: svc}, nil
}

func (a *App) Close() { a.DB.Close() }
