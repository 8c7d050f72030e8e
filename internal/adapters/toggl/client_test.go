package toggl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HamedShams/timepulse/internal/adapters/retry"
	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, pageSize int, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Config{
		TogglAPIToken:       "tok",
		TogglWorkspaceID:    9,
		TogglAPIBase:        srv.URL + "/api/v9",
		TogglReportsBase:    srv.URL + "/reports/api/v3",
		TogglPageSize:       pageSize,
		TogglReportPageSize: 50,
		HTTPTimeout:         2 * time.Second,
		RetryMaxElapsed:     500 * time.Millisecond,
	}
	return NewClient(cfg, zerolog.Nop())
}

func TestFetchProjects_PagesUntilShortPage(t *testing.T) {
	var pages []string
	c := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "tok", user)
		assert.Equal(t, "api_token", pass)
		assert.Equal(t, "/api/v9/workspaces/9/projects", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		switch page {
		case "1":
			_, _ = io.WriteString(w, `[{"id":1,"name":"A","workspace_id":9,"active":true},{"id":2,"name":"B","workspace_id":9,"active":true}]`)
		case "2":
			_, _ = io.WriteString(w, `[{"id":3,"name":"C","workspace_id":9,"active":false}]`)
		default:
			t.Errorf("unexpected page %s", page)
		}
	})

	projects, err := c.FetchProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, pages)
	require.Len(t, projects, 3)
	assert.Equal(t, "C", projects[2].Name)
	assert.False(t, projects[2].Active)
}

func TestFetchProjects_StopsOnEmptyPage(t *testing.T) {
	calls := 0
	c := newTestClient(t, 1, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("page") == "1" {
			_, _ = io.WriteString(w, `[{"id":1,"name":"A"}]`)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})
	projects, err := c.FetchProjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 1)
	assert.Equal(t, 2, calls)
}

func TestFetchProjects_PageFailureIsFatal(t *testing.T) {
	c := newTestClient(t, 1, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			_, _ = io.WriteString(w, `[{"id":1,"name":"A"}]`)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})
	projects, err := c.FetchProjects(context.Background())
	assert.Nil(t, projects)
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Status)
}

func TestFetchProjectTasks(t *testing.T) {
	c := newTestClient(t, 10, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v9/workspaces/9/projects/5/tasks", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":11,"name":"Development","project_id":5},{"id":12,"name":"QA","project_id":5}]`)
	})
	tasks, err := c.FetchProjectTasks(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, int64(11), tasks[0].ID)
}

func TestFetchProjectTasks_NullBody(t *testing.T) {
	c := newTestClient(t, 10, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `null`)
	})
	tasks, err := c.FetchProjectTasks(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestFetchTimeEntries_BatchedBody(t *testing.T) {
	c := newTestClient(t, 10, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reports/api/v3/workspace/9/search/time_entries", r.URL.Path)
		var body searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []int64{11, 21}, body.TaskIDs)
		assert.Equal(t, "2025-01-01", body.StartDate)
		assert.Equal(t, "2025-12-31", body.EndDate)
		assert.Equal(t, 50, body.PageSize)
		_, _ = io.WriteString(w, `[
			{"id":100,"description":"BLE-1 work","task_id":11,"duration":3600,"start":"2025-03-01T10:00:00Z","stop":"2025-03-01T11:00:00Z"},
			{"id":101,"description":"no ticket","task_id":21,"start":"2025-03-02T10:00:00Z","stop":null}
		]`)
	})

	entries, err := c.FetchTimeEntries(context.Background(), []int64{11, 21}, domain.CalendarYear(2025))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].Duration)
	assert.Equal(t, 3600.0, *entries[0].Duration)
	assert.Nil(t, entries[1].Duration)
	assert.Nil(t, entries[1].Stop)
}

func TestFetchTimeEntries_GroupedRowsAndContinuation(t *testing.T) {
	calls := 0
	c := newTestClient(t, 10, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.FirstRowNumber == 0 {
			w.Header().Set(nextRowHeader, "51")
			_, _ = io.WriteString(w, `[{"description":"BLE-7 api","task_id":11,"time_entries":[
				{"id":1,"seconds":60,"start":"2025-01-01T00:00:00Z"},
				{"id":2,"seconds":120,"start":"2025-01-02T00:00:00Z"}
			]}]`)
			return
		}
		assert.Equal(t, 51, body.FirstRowNumber)
		_, _ = io.WriteString(w, `[{"id":3,"description":"BLE-8","task_id":11,"duration":30,"start":"2025-01-03T00:00:00Z"}]`)
	})

	entries, err := c.FetchTimeEntries(context.Background(), []int64{11}, domain.CalendarYear(2025))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, entries, 3)
	assert.Equal(t, "BLE-7 api", entries[1].Description)
	assert.Equal(t, int64(11), entries[1].TaskID)
	assert.Equal(t, 120.0, *entries[1].Duration)
	assert.Equal(t, int64(3), entries[2].SourceID)
}

func TestFetchTimeEntries_NoTasksNoRequest(t *testing.T) {
	c := newTestClient(t, 10, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	})
	entries, err := c.FetchTimeEntries(context.Background(), nil, domain.CalendarYear(2025))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDoJSON_MissingToken(t *testing.T) {
	c := NewClient(config.Config{}, zerolog.Nop())
	_, err := c.FetchProjects(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Contains(t, err.Error(), fmt.Sprintf("page %d", 1))
}
