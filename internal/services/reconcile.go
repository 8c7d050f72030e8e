/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"strings"

	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/rs/zerolog"
)

// Match pairs an issue-tracker project with the time-tracker project whose
// name contains it. DevelopmentTask is nil when the project has no canonical
// task (or its task list could not be fetched).
type Match struct {
	IssueProject       domain.IssueProject
	TimeTrackerProject domain.TTProject
	DevelopmentTask    *domain.TTTask
}

// ReconcileResult is the output of the reconciliation stage.
type ReconcileResult struct {
	Matches            []Match
	TaskIDs            []int64
	TaskLookupFailures int
}

// ProjectsWithDevelopmentTask counts matches that resolved a canonical task.
func (r ReconcileResult) ProjectsWithDevelopmentTask() int {
	n := 0
	for _, m := range r.Matches {
		if m.DevelopmentTask != nil {
			n++
		}
	}
	return n
}

// TaskLister fetches a time-tracker project's tasks.
type TaskLister interface {
	FetchProjectTasks(ctx context.Context, projectID int64) ([]domain.TTTask, error)
}

// MatchProject returns the first candidate whose lowercased name contains the
// lowercased issue-project name. The test is one-directional and order
// sensitive: the first hit in candidate order wins.
func MatchProject(p domain.IssueProject, candidates []domain.TTProject) (domain.TTProject, bool) {
	needle := strings.ToLower(strings.TrimSpace(p.Name))
	if needle == "" {
		return domain.TTProject{}, false
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			return c, true
		}
	}
	return domain.TTProject{}, false
}

// SelectCanonicalTask returns the first task named exactly name, ignoring case.
func SelectCanonicalTask(tasks []domain.TTTask, name string) *domain.TTTask {
	for i := range tasks {
		if strings.EqualFold(strings.TrimSpace(tasks[i].Name), name) {
			t := tasks[i]
			return &t
		}
	}
	return nil
}

// Reconcile matches every issue-tracker project against the time-tracker
// projects and resolves each match's canonical task. A failed task lookup is
// logged and leaves that match without a task; it never aborts the others.
func Reconcile(ctx context.Context, log zerolog.Logger, projects []domain.IssueProject, ttProjects []domain.TTProject, tasks TaskLister, canonicalName string) ReconcileResult {
	var res ReconcileResult
	type lookup struct {
		task *domain.TTTask
		err  error
	}
	seen := map[int64]lookup{}
	taskSeen := map[int64]struct{}{}

	for _, p := range projects {
		tp, ok := MatchProject(p, ttProjects)
		if !ok {
			log.Debug().Str("project", p.Name).Msg("no time tracker project matches")
			continue
		}
		m := Match{IssueProject: p, TimeTrackerProject: tp}

		l, cached := seen[tp.ID]
		if !cached {
			list, err := tasks.FetchProjectTasks(ctx, tp.ID)
			if err != nil {
				l = lookup{err: err}
			} else {
				l = lookup{task: SelectCanonicalTask(list, canonicalName)}
			}
			seen[tp.ID] = l
		}
		switch {
		case l.err != nil:
			res.TaskLookupFailures++
			log.Warn().Err(l.err).Str("project", p.Name).Int64("tt_project_id", tp.ID).Msg("task lookup failed; treating project as having no canonical task")
		case l.task != nil:
			m.DevelopmentTask = l.task
			if _, dup := taskSeen[l.task.ID]; !dup {
				taskSeen[l.task.ID] = struct{}{}
				res.TaskIDs = append(res.TaskIDs, l.task.ID)
			}
		default:
			log.Info().Str("project", p.Name).Str("tt_project", tp.Name).Msg("matched project has no canonical task")
		}
		res.Matches = append(res.Matches, m)
	}
	log.Info().Int("projects", len(projects)).Int("matched", len(res.Matches)).Int("with_task", len(res.TaskIDs)).Msg("reconciliation done")
	return res
}
