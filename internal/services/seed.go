/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/HamedShams/timepulse/internal/metrics"
	"github.com/rs/zerolog"
)

const maxTitleLen = 255

var estimateLabel = regexp.MustCompile(`(?i)^\s*estimate:\s*(.*?)\s*$`)

// Store is the natural-key persistence boundary. Every insert is a single
// conditional write; created=false means the row already existed.
type Store interface {
	InsertLabel(ctx context.Context, name string) (id int64, created bool, err error)
	InsertIssue(ctx context.Context, issue domain.Issue, update bool) (id int64, created bool, err error)
	LinkIssueLabel(ctx context.Context, issueID, labelID int64) (created bool, err error)
	InsertTimeEntry(ctx context.Context, e domain.TimeEntry) (created bool, err error)
}

// Counts tallies records offered to the store and how many were new.
type Counts struct {
	Total   int `json:"total"`
	Created int `json:"created"`
}

// EntryCounts splits Skipped into its causes. NotFound is kept apart from
// Skipped so a lagging issue sync is distinguishable from sloppy tracking.
type EntryCounts struct {
	Total           int `json:"total"`
	Created         int `json:"created"`
	Skipped         int `json:"skipped"`
	NotFound        int `json:"notFound"`
	InvalidDuration int `json:"invalidDuration"`
	NoIdentifier    int `json:"noIdentifier"`
	Existing        int `json:"existing"`
}

// SeedSummary is the per-entity outcome of one Seed call.
type SeedSummary struct {
	Labels      Counts      `json:"labels"`
	Issues      Counts      `json:"issues"`
	TimeEntries EntryCounts `json:"timeEntries"`
}

// EstimateFromLabels returns the value of the first "Estimate: <value>" label.
func EstimateFromLabels(labels []string) string {
	for _, l := range labels {
		if m := estimateLabel.FindStringSubmatch(l); m != nil {
			return m[1]
		}
	}
	return ""
}

// TruncateTitle caps a title at 255 characters, ending in "..." when cut.
func TruncateTitle(title string) string {
	r := []rune(title)
	if len(r) <= maxTitleLen {
		return title
	}
	return string(r[:maxTitleLen-3]) + "..."
}

// Seeder writes a run's issues and time entries through a Store.
type Seeder struct {
	store  Store
	log    zerolog.Logger
	update bool
}

// NewSeeder builds a seeder. With update=false issues keep their first-seen
// data and only new issues get label associations.
func NewSeeder(store Store, log zerolog.Logger, update bool) *Seeder {
	return &Seeder{store: store, log: log, update: update}
}

// Seed persists labels, issues, their associations and linked time entries.
// Data-quality problems are counted, never returned; the error is reserved
// for storage failures, in which case the counts so far are still returned.
func (s *Seeder) Seed(ctx context.Context, issues []domain.Issue, entries []domain.RawTimeEntry) (SeedSummary, error) {
	var sum SeedSummary

	labelIDs, err := s.seedLabels(ctx, issues, &sum.Labels)
	if err != nil {
		return sum, err
	}
	known, err := s.seedIssues(ctx, issues, labelIDs, &sum.Issues)
	if err != nil {
		return sum, err
	}
	if err := s.seedTimeEntries(ctx, NewLinker(known), entries, &sum.TimeEntries); err != nil {
		return sum, err
	}

	s.log.Info().
		Int("labels_created", sum.Labels.Created).
		Int("issues_created", sum.Issues.Created).
		Int("entries_created", sum.TimeEntries.Created).
		Int("entries_skipped", sum.TimeEntries.Skipped).
		Int("entries_not_found", sum.TimeEntries.NotFound).
		Msg("seed done")
	return sum, nil
}

func (s *Seeder) seedLabels(ctx context.Context, issues []domain.Issue, c *Counts) (map[string]int64, error) {
	ids := map[string]int64{}
	for _, iss := range issues {
		for _, name := range iss.Labels {
			if name == "" {
				continue
			}
			if _, ok := ids[name]; ok {
				continue
			}
			c.Total++
			id, created, err := s.store.InsertLabel(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("seed labels: %w", err)
			}
			ids[name] = id
			if created {
				c.Created++
				metrics.SeededRecords.WithLabelValues("label", "created").Inc()
			} else {
				metrics.SeededRecords.WithLabelValues("label", "existing").Inc()
			}
		}
	}
	return ids, nil
}

func (s *Seeder) seedIssues(ctx context.Context, issues []domain.Issue, labelIDs map[string]int64, c *Counts) (map[string]int64, error) {
	known := map[string]int64{}
	for _, iss := range issues {
		if iss.Identifier == "" {
			continue
		}
		if _, dup := known[iss.Identifier]; dup {
			continue
		}
		c.Total++
		iss.EstimateRaw = EstimateFromLabels(iss.Labels)
		iss.Title = TruncateTitle(iss.Title)
		id, created, err := s.store.InsertIssue(ctx, iss, s.update)
		if err != nil {
			return nil, fmt.Errorf("seed issues: %w", err)
		}
		known[iss.Identifier] = id
		if created {
			c.Created++
			metrics.SeededRecords.WithLabelValues("issue", "created").Inc()
		} else {
			metrics.SeededRecords.WithLabelValues("issue", "existing").Inc()
		}
		// Existing issues are assumed fully linked unless running in update mode.
		if !created && !s.update {
			continue
		}
		for _, name := range iss.Labels {
			labelID, ok := labelIDs[name]
			if !ok {
				continue
			}
			if _, err := s.store.LinkIssueLabel(ctx, id, labelID); err != nil {
				return nil, fmt.Errorf("seed issue labels: %w", err)
			}
		}
	}
	return known, nil
}

func (s *Seeder) seedTimeEntries(ctx context.Context, linker *Linker, entries []domain.RawTimeEntry, c *EntryCounts) error {
	for _, e := range entries {
		c.Total++
		if !e.ValidDuration() {
			c.Skipped++
			c.InvalidDuration++
			metrics.SeededRecords.WithLabelValues("time_entry", "invalid_duration").Inc()
			continue
		}
		identifier, issueID, reason := linker.Link(e)
		switch reason {
		case ReasonNoIdentifier:
			c.Skipped++
			c.NoIdentifier++
			metrics.SeededRecords.WithLabelValues("time_entry", "no_identifier").Inc()
			continue
		case ReasonIssueNotFound:
			c.NotFound++
			metrics.SeededRecords.WithLabelValues("time_entry", "not_found").Inc()
			s.log.Debug().Str("identifier", identifier).Int64("source_id", e.SourceID).Msg("time entry references unknown issue")
			continue
		}
		created, err := s.store.InsertTimeEntry(ctx, domain.TimeEntry{
			SourceID:    e.SourceID,
			TaskID:      issueID,
			Duration:    int64(math.Ceil(*e.Duration)),
			Start:       e.Start,
			Stop:        e.Stop,
			Description: strings.TrimSpace(e.Description),
		})
		if err != nil {
			return fmt.Errorf("seed time entries: %w", err)
		}
		if created {
			c.Created++
			metrics.SeededRecords.WithLabelValues("time_entry", "created").Inc()
		} else {
			c.Skipped++
			c.Existing++
			metrics.SeededRecords.WithLabelValues("time_entry", "existing").Inc()
		}
	}
	return nil
}
