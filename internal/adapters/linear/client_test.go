package linear

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HamedShams/timepulse/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, key string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Config{
		LinearAPIKey:    key,
		LinearTeamID:    "team-1",
		LinearEndpoint:  srv.URL,
		HTTPTimeout:     2 * time.Second,
		RetryMaxElapsed: 500 * time.Millisecond,
	}
	return NewClient(cfg, zerolog.Nop())
}

func decodeRequest(t *testing.T, r *http.Request) gqlRequest {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var req gqlRequest
	require.NoError(t, json.Unmarshal(b, &req))
	return req
}

func TestFetchProjects(t *testing.T) {
	c := newTestClient(t, "lin_api_key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lin_api_key", r.Header.Get("Authorization"))
		req := decodeRequest(t, r)
		assert.Equal(t, "team-1", req.Variables["teamId"])
		_, _ = io.WriteString(w, `{"data":{"team":{"projects":{"nodes":[
			{"id":"p1","name":"Website","state":"started","lead":{"id":"u1","name":"Ada"}},
			{"id":"p2","name":"Mobile","state":"planned","lead":null}
		]}}}}`)
	})

	projects, err := c.FetchProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Website", projects[0].Name)
	assert.Equal(t, "Ada", projects[0].LeadName)
	assert.Equal(t, "", projects[1].LeadID)
}

func TestFetchProjects_GraphQLErrorIsFatalAndNotRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"errors":[{"message":"Authentication required"}]}`)
	})

	_, err := c.FetchProjects(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGraphQL)
	assert.Contains(t, err.Error(), "Authentication required")
	assert.Equal(t, 1, calls)
}

func TestFetchProjects_MissingKey(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without a key")
	})
	_, err := c.FetchProjects(context.Background())
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestFetchProjects_RetriesServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"team":{"projects":{"nodes":[]}}}}`)
	})
	projects, err := c.FetchProjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
	assert.Equal(t, 2, calls)
}

func TestFetchProjectIssues_Paginates(t *testing.T) {
	calls := 0
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		calls++
		req := decodeRequest(t, r)
		assert.Equal(t, "p1", req.Variables["projectId"])
		if req.Variables["after"] == nil {
			_, _ = io.WriteString(w, `{"data":{"issues":{"nodes":[
				{"identifier":"BLE-1","title":"Login","labels":{"nodes":[{"name":"Estimate: 2-4"},{"name":"Bug"}]},
				 "delegate":{"id":"a1","name":"Agent"},"project":{"name":"Website"},
				 "createdAt":"2025-01-02T03:04:05Z","updatedAt":"2025-01-03T03:04:05Z","completedAt":"2025-01-04T00:00:00Z"}
			],"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`)
			return
		}
		assert.Equal(t, "c1", req.Variables["after"])
		_, _ = io.WriteString(w, `{"data":{"issues":{"nodes":[
			{"identifier":"BLE-2","title":"Signup","labels":{"nodes":[]},"delegate":null,"project":null,
			 "createdAt":"2025-02-02T00:00:00Z","updatedAt":"2025-02-02T00:00:00Z"}
		],"pageInfo":{"hasNextPage":false,"endCursor":"c2"}}}}`)
	})

	issues, err := c.FetchProjectIssues(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, 2, calls)

	assert.Equal(t, "BLE-1", issues[0].Identifier)
	assert.Equal(t, []string{"Estimate: 2-4", "Bug"}, issues[0].Labels)
	assert.Equal(t, "Agent", issues[0].DelegateName)
	assert.Equal(t, "Website", issues[0].ProjectName)
	require.NotNil(t, issues[0].CompletedAt)
	assert.Nil(t, issues[0].StartedAt)

	assert.Equal(t, "", issues[1].DelegateID)
	assert.Empty(t, issues[1].Labels)
}

func TestFetchProjects_MorePagesIsAnError(t *testing.T) {
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.EqualValues(t, projectsPageSize, req.Variables["first"])
		_, _ = io.WriteString(w, `{"data":{"team":{"projects":{
			"nodes":[{"id":"p1","name":"Website"}],
			"pageInfo":{"hasNextPage":true}
		}}}}`)
	})

	projects, err := c.FetchProjects(context.Background())
	assert.ErrorIs(t, err, ErrTooManyProjects)
	assert.Nil(t, projects)
}
