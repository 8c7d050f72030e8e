/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/HamedShams/timepulse/internal/metrics"
	"github.com/HamedShams/timepulse/internal/repo"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type IssueTracker interface {
	FetchProjects(ctx context.Context) ([]domain.IssueProject, error)
	FetchProjectIssues(ctx context.Context, projectID string) ([]domain.Issue, error)
}

type TimeTracker interface {
	FetchProjects(ctx context.Context) ([]domain.TTProject, error)
	TaskLister
	EntryFetcher
}

// RunLog records job runs. Optional.
type RunLog interface {
	StartJobRun(ctx context.Context, runID uuid.UUID, trigger string) error
	FinishJobRun(ctx context.Context, runID uuid.UUID, success bool, errStr string, summary []byte) error
	GetLastRun(ctx context.Context) (*repo.LastRun, error)
}

type Notifier interface {
	SendMessagePlain(ctx context.Context, chatID int64, text string) error
}

type Service struct {
	cfg    config.Config
	log    zerolog.Logger
	issues IssueTracker
	tt     TimeTracker
	store  Store
	runs   RunLog
	tg     Notifier

	group singleflight.Group
}

// New wires the pipeline. runs and tg may be nil.
func New(cfg config.Config, log zerolog.Logger, issues IssueTracker, tt TimeTracker, store Store, runs RunLog, tg Notifier) *Service {
	return &Service{cfg: cfg, log: log, issues: issues, tt: tt, store: store, runs: runs, tg: tg}
}

type MatchSummary struct {
	IssueProject       string         `json:"issueProject"`
	TimeTrackerProject string         `json:"timeTrackerProject"`
	DevelopmentTask    *domain.TTTask `json:"developmentTask"`
}

// RunResult is the structured outcome of one pipeline run.
type RunResult struct {
	RunID                       string         `json:"runId"`
	Trigger                     string         `json:"trigger"`
	MatchedProjects             int            `json:"matchedProjects"`
	ProjectsWithDevelopmentTask int            `json:"projectsWithDevelopmentTask"`
	TotalTimeEntries            int            `json:"totalTimeEntries"`
	TaskLookupFailures          int            `json:"taskLookupFailures"`
	IssueFetchFailures          int            `json:"issueFetchFailures"`
	TimeEntriesError            string         `json:"timeEntriesError,omitempty"`
	Matches                     []MatchSummary `json:"matches"`
	Seed                        SeedSummary    `json:"seed"`
}

// Run executes the pipeline end to end. Calls that overlap within this
// process share one execution and receive the same result.
func (s *Service) Run(ctx context.Context, trigger string) (*RunResult, error) {
	v, err, shared := s.group.Do("pipeline", func() (any, error) {
		return s.run(ctx, trigger)
	})
	if shared {
		s.log.Info().Str("trigger", trigger).Msg("pipeline run shared with a concurrent trigger")
	}
	res, _ := v.(*RunResult)
	return res, err
}

func (s *Service) run(ctx context.Context, trigger string) (*RunResult, error) {
	runID := uuid.New()
	log := s.log.With().Str("run_id", runID.String()).Str("trigger", trigger).Logger()
	start := time.Now()
	log.Info().Msg("pipeline: start")

	if s.runs != nil {
		if err := s.runs.StartJobRun(ctx, runID, trigger); err != nil {
			log.Error().Err(err).Msg("start job run failed")
		}
	}

	res, err := s.pipeline(ctx, log)
	if res != nil {
		res.RunID = runID.String()
		res.Trigger = trigger
	}

	outcome := "success"
	errStr := ""
	if err != nil {
		outcome = "failure"
		errStr = err.Error()
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("pipeline: failed")
	} else {
		log.Info().Dur("took", time.Since(start)).Int("matched", res.MatchedProjects).Int("entries_created", res.Seed.TimeEntries.Created).Msg("pipeline: done")
	}
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	if s.runs != nil {
		var summary []byte
		if res != nil {
			summary, _ = json.Marshal(res)
		}
		if ferr := s.runs.FinishJobRun(context.WithoutCancel(ctx), runID, err == nil, errStr, summary); ferr != nil {
			log.Error().Err(ferr).Msg("finish job run failed")
		}
	}
	s.notify(context.WithoutCancel(ctx), log, res, err)
	return res, err
}

// pipeline runs the stages in order. Only configuration, complete-set
// project fetches and storage failures are fatal.
func (s *Service) pipeline(ctx context.Context, log zerolog.Logger) (*RunResult, error) {
	projects, err := s.issues.FetchProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch issue tracker projects: %w", err)
	}
	ttProjects, err := s.tt.FetchProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch time tracker projects: %w", err)
	}

	rec := Reconcile(ctx, log, projects, ttProjects, s.tt, s.cfg.CanonicalTaskName)
	issues, issueFailures := s.fetchIssues(ctx, log, rec.Matches)
	col := CollectTimeEntries(ctx, log, s.tt, rec.TaskIDs, domain.CalendarYear(s.cfg.ReportYear))

	res := &RunResult{
		MatchedProjects:             len(rec.Matches),
		ProjectsWithDevelopmentTask: rec.ProjectsWithDevelopmentTask(),
		TotalTimeEntries:            len(col.Entries),
		TaskLookupFailures:          rec.TaskLookupFailures,
		IssueFetchFailures:          issueFailures,
		Matches:                     make([]MatchSummary, 0, len(rec.Matches)),
	}
	if col.Err != nil {
		res.TimeEntriesError = col.Err.Error()
	}
	for _, m := range rec.Matches {
		res.Matches = append(res.Matches, MatchSummary{
			IssueProject:       m.IssueProject.Name,
			TimeTrackerProject: m.TimeTrackerProject.Name,
			DevelopmentTask:    m.DevelopmentTask,
		})
	}

	seeder := NewSeeder(s.store, log, s.cfg.IssueWriteMode == config.WriteUpdate)
	sum, err := seeder.Seed(ctx, issues, col.Entries)
	res.Seed = sum
	if err != nil {
		return res, fmt.Errorf("seed: %w", err)
	}
	return res, nil
}

// fetchIssues loads the issues of every matched project. A failing project is
// logged and contributes no issues.
func (s *Service) fetchIssues(ctx context.Context, log zerolog.Logger, matches []Match) ([]domain.Issue, int) {
	var out []domain.Issue
	failures := 0
	seen := map[string]struct{}{}
	for _, m := range matches {
		if _, ok := seen[m.IssueProject.ID]; ok {
			continue
		}
		seen[m.IssueProject.ID] = struct{}{}
		issues, err := s.issues.FetchProjectIssues(ctx, m.IssueProject.ID)
		if err != nil {
			failures++
			log.Warn().Err(err).Str("project", m.IssueProject.Name).Msg("issue fetch failed; project contributes no issues")
			continue
		}
		out = append(out, issues...)
	}
	return out, failures
}

func (s *Service) LastRun(ctx context.Context) (*repo.LastRun, error) {
	if s.runs == nil {
		return nil, repo.ErrNoRuns
	}
	return s.runs.GetLastRun(ctx)
}

func (s *Service) notify(ctx context.Context, log zerolog.Logger, res *RunResult, runErr error) {
	if s.tg == nil || len(s.cfg.TelegramChatIDs) == 0 {
		return
	}
	text := renderSummary(res, runErr)
	for _, chat := range s.cfg.TelegramChatIDs {
		if err := s.tg.SendMessagePlain(ctx, chat, text); err != nil {
			log.Warn().Err(err).Int64("chat", chat).Msg("run summary notification failed")
		}
	}
}

func renderSummary(res *RunResult, runErr error) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "Timepulse sync\n")
	if runErr != nil {
		fmt.Fprintf(b, "FAILED: %v\n", runErr)
	}
	if res == nil {
		return b.String()
	}
	fmt.Fprintf(b, "Matched projects: %d (with development task: %d)\n", res.MatchedProjects, res.ProjectsWithDevelopmentTask)
	fmt.Fprintf(b, "Issues: %d new of %d\n", res.Seed.Issues.Created, res.Seed.Issues.Total)
	te := res.Seed.TimeEntries
	fmt.Fprintf(b, "Time entries: %d new, %d skipped, %d unknown issue (of %d)\n", te.Created, te.Skipped, te.NotFound, te.Total)
	if res.TimeEntriesError != "" {
		fmt.Fprintf(b, "Time entry fetch failed: %s\n", res.TimeEntriesError)
	}
	return b.String()
}
