/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package toggl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/HamedShams/timepulse/internal/adapters/retry"
	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/HamedShams/timepulse/internal/metrics"
	"github.com/rs/zerolog"
)

var ErrNoToken = errors.New("toggl: api token or workspace not configured")

// nextRowHeader is set by the reports API when more rows are available.
const nextRowHeader = "X-Next-Row-Number"

type Client struct {
	apiBase        string
	reportsBase    string
	token          string
	workspaceID    int64
	pageSize       int
	reportPageSize int
	http           *http.Client
	log            zerolog.Logger
	maxElapsed     time.Duration
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	pageSize := cfg.TogglPageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	reportPageSize := cfg.TogglReportPageSize
	if reportPageSize <= 0 {
		reportPageSize = 1000
	}
	return &Client{
		apiBase:        strings.TrimRight(cfg.TogglAPIBase, "/"),
		reportsBase:    strings.TrimRight(cfg.TogglReportsBase, "/"),
		token:          cfg.TogglAPIToken,
		workspaceID:    cfg.TogglWorkspaceID,
		pageSize:       pageSize,
		reportPageSize: reportPageSize,
		http:           &http.Client{Timeout: cfg.HTTPTimeout},
		log:            log.With().Str("source", "toggl").Logger(),
		maxElapsed:     cfg.RetryMaxElapsed,
	}
}

func (c *Client) apiURL(base, path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := base + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

// doJSON sends one request with Basic auth "<token>:api_token", retrying
// transient failures, and decodes a 2xx body into out. The response headers
// of the successful attempt are returned.
func (c *Client) doJSON(ctx context.Context, method, u string, body any, out any) (http.Header, error) {
	if c.token == "" || c.workspaceID <= 0 {
		return nil, ErrNoToken
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	var header http.Header
	err := retry.Do(ctx, c.maxElapsed, func() error {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return retry.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.SetBasicAuth(c.token, "api_token")
		resp, err := c.http.Do(req)
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues("toggl", "transport_error").Inc()
			c.log.Warn().Err(err).Str("url", u).Msg("toggl request failed")
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			metrics.UpstreamRequests.WithLabelValues("toggl", "status_error").Inc()
			return &retry.StatusError{Source: "toggl", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		metrics.UpstreamRequests.WithLabelValues("toggl", "ok").Inc()
		header = resp.Header
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return retry.Permanent(fmt.Errorf("toggl: decode response: %w", err))
		}
		return nil
	})
	return header, err
}

// FetchProjects pages through every workspace project. A page shorter than
// the page size (or empty) ends the walk; any failed page fails the whole
// fetch because matching needs the complete list.
func (c *Client) FetchProjects(ctx context.Context) ([]domain.TTProject, error) {
	var out []domain.TTProject
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.pageSize))
		path := fmt.Sprintf("/workspaces/%d/projects", c.workspaceID)
		var batch []domain.TTProject
		if _, err := c.doJSON(ctx, http.MethodGet, c.apiURL(c.apiBase, path, q), nil, &batch); err != nil {
			return nil, fmt.Errorf("fetch toggl projects page %d: %w", page, err)
		}
		out = append(out, batch...)
		if len(batch) < c.pageSize {
			break
		}
	}
	c.log.Debug().Int("projects", len(out)).Msg("toggl projects fetched")
	return out, nil
}

// FetchProjectTasks lists the tasks of one project.
func (c *Client) FetchProjectTasks(ctx context.Context, projectID int64) ([]domain.TTTask, error) {
	path := fmt.Sprintf("/workspaces/%d/projects/%d/tasks", c.workspaceID, projectID)
	var tasks []domain.TTTask
	if _, err := c.doJSON(ctx, http.MethodGet, c.apiURL(c.apiBase, path, nil), nil, &tasks); err != nil {
		return nil, fmt.Errorf("fetch toggl tasks for project %d: %w", projectID, err)
	}
	return tasks, nil
}

type searchRequest struct {
	TaskIDs        []int64 `json:"task_ids"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	PageSize       int     `json:"page_size"`
	FirstRowNumber int     `json:"first_row_number,omitempty"`
}

type entryRow struct {
	ID          int64      `json:"id"`
	Description string     `json:"description"`
	TaskID      int64      `json:"task_id"`
	ProjectID   int64      `json:"project_id"`
	Duration    *float64   `json:"duration"`
	Seconds     *float64   `json:"seconds"`
	Start       time.Time  `json:"start"`
	Stop        *time.Time `json:"stop"`
	TimeEntries []entryRow `json:"time_entries"`
}

// flatten accepts both flat rows and rows grouped with nested time_entries,
// where the nested entries inherit description and task from their group.
func flatten(rows []entryRow) []domain.RawTimeEntry {
	var out []domain.RawTimeEntry
	for _, r := range rows {
		if len(r.TimeEntries) > 0 {
			for _, te := range r.TimeEntries {
				if te.Description == "" {
					te.Description = r.Description
				}
				if te.TaskID == 0 {
					te.TaskID = r.TaskID
				}
				if te.ProjectID == 0 {
					te.ProjectID = r.ProjectID
				}
				out = append(out, toRaw(te))
			}
			continue
		}
		out = append(out, toRaw(r))
	}
	return out
}

func toRaw(r entryRow) domain.RawTimeEntry {
	d := r.Duration
	if d == nil {
		d = r.Seconds
	}
	return domain.RawTimeEntry{
		SourceID:    r.ID,
		TaskID:      r.TaskID,
		ProjectID:   r.ProjectID,
		Description: r.Description,
		Duration:    d,
		Start:       r.Start,
		Stop:        r.Stop,
	}
}

// FetchTimeEntries runs one batched report search for all task ids in the
// window and follows the row-number continuation header when present.
func (c *Client) FetchTimeEntries(ctx context.Context, taskIDs []int64, window domain.ReportWindow) ([]domain.RawTimeEntry, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	path := fmt.Sprintf("/workspace/%d/search/time_entries", c.workspaceID)
	body := searchRequest{
		TaskIDs:   taskIDs,
		StartDate: window.Start.Format(time.DateOnly),
		EndDate:   window.End.Format(time.DateOnly),
		PageSize:  c.reportPageSize,
	}
	var out []domain.RawTimeEntry
	for {
		var rows []entryRow
		h, err := c.doJSON(ctx, http.MethodPost, c.apiURL(c.reportsBase, path, nil), body, &rows)
		if err != nil {
			return nil, fmt.Errorf("fetch toggl time entries: %w", err)
		}
		out = append(out, flatten(rows)...)
		next, _ := strconv.Atoi(strings.TrimSpace(h.Get(nextRowHeader)))
		if next <= 0 || next <= body.FirstRowNumber || len(rows) == 0 {
			break
		}
		body.FirstRowNumber = next
	}
	c.log.Debug().Int("tasks", len(taskIDs)).Int("entries", len(out)).Msg("toggl time entries fetched")
	return out, nil
}
