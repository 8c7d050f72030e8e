/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import (
	"math"
	"time"
)

// IssueProject is a project as reported by the issue tracker. It is only
// used to drive matching and is never persisted.
type IssueProject struct {
	ID          string
	Name        string
	Description string
	State       string
	StartDate   string
	TargetDate  string
	LeadID      string
	LeadName    string
}

// TTProject is a time-tracker project.
type TTProject struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	WorkspaceID int64  `json:"workspace_id"`
	Active      bool   `json:"active"`
}

// TTTask is a task inside a time-tracker project.
type TTTask struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ProjectID int64  `json:"project_id"`
	Active    bool   `json:"active"`
}

// Issue is an issue-tracker work item, persisted once per Identifier.
type Issue struct {
	ID           int64
	Identifier   string
	Title        string
	Labels       []string
	EstimateRaw  string
	DelegateID   string
	DelegateName string
	ProjectName  string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RawTimeEntry is a time entry exactly as returned by the reports API.
// Duration is in seconds; nil means the upstream omitted it.
type RawTimeEntry struct {
	SourceID    int64
	TaskID      int64
	ProjectID   int64
	Description string
	Duration    *float64
	Start       time.Time
	Stop        *time.Time
}

// MaxEntrySeconds bounds a single entry to one leap year.
const MaxEntrySeconds = 366 * 24 * 60 * 60

// ValidDuration reports whether the entry carries a usable positive duration
// no longer than MaxEntrySeconds.
func (e RawTimeEntry) ValidDuration() bool {
	if e.Duration == nil {
		return false
	}
	d := *e.Duration
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d > 0 && d <= MaxEntrySeconds
}

// TimeEntry is the persisted form of a RawTimeEntry linked to an issue.
type TimeEntry struct {
	SourceID    int64
	TaskID      int64 // storage id of the linked issue
	Duration    int64
	Start       time.Time
	Stop        *time.Time
	Description string
}

// ReportWindow is the inclusive date range used for time entry collection.
type ReportWindow struct {
	Start time.Time
	End   time.Time
}

// CalendarYear returns the window Jan 1 .. Dec 31 of year.
func CalendarYear(year int) ReportWindow {
	return ReportWindow{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}
