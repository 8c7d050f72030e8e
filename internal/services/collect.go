/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"

	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/rs/zerolog"
)

// EntryFetcher runs the batched time entry search.
type EntryFetcher interface {
	FetchTimeEntries(ctx context.Context, taskIDs []int64, window domain.ReportWindow) ([]domain.RawTimeEntry, error)
}

// CollectResult carries the raw entries of a run. Err is set when the batch
// failed; Entries is then empty and the run continues without time data.
type CollectResult struct {
	Entries []domain.RawTimeEntry
	Err     error
}

// CollectTimeEntries fetches all entries for the canonical tasks in window.
// Entries are passed through as returned; filtering happens in the seeder.
func CollectTimeEntries(ctx context.Context, log zerolog.Logger, f EntryFetcher, taskIDs []int64, window domain.ReportWindow) CollectResult {
	if len(taskIDs) == 0 {
		return CollectResult{}
	}
	entries, err := f.FetchTimeEntries(ctx, taskIDs, window)
	if err != nil {
		log.Error().Err(err).Int("tasks", len(taskIDs)).Msg("time entry fetch failed; continuing with zero entries")
		return CollectResult{Err: err}
	}
	log.Info().Int("tasks", len(taskIDs)).Int("entries", len(entries)).Msg("time entries collected")
	return CollectResult{Entries: entries}
}
