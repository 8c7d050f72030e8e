/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HamedShams/timepulse/internal/adapters/retry"
	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/HamedShams/timepulse/internal/metrics"
	"github.com/rs/zerolog"
)

const DefaultAPIEndpoint = "https://api.linear.app/graphql"

const issuesPageSize = 100

const projectsPageSize = 250

var (
	ErrNoAPIKey        = errors.New("linear: api key not configured")
	ErrGraphQL         = errors.New("linear: graphql error")
	ErrTooManyProjects = errors.New("linear: team has more projects than one page holds")
)

type Client struct {
	endpoint   string
	apiKey     string
	teamID     string
	http       *http.Client
	log        zerolog.Logger
	maxElapsed time.Duration
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	endpoint := cfg.LinearEndpoint
	if endpoint == "" {
		endpoint = DefaultAPIEndpoint
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     cfg.LinearAPIKey,
		teamID:     cfg.LinearTeamID,
		http:       &http.Client{Timeout: cfg.HTTPTimeout},
		log:        log.With().Str("source", "linear").Logger(),
		maxElapsed: cfg.RetryMaxElapsed,
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

// query posts a GraphQL document and decodes "data" into out. A response with
// an errors array is not retried.
func (c *Client) query(ctx context.Context, doc string, vars map[string]any, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	body, err := json.Marshal(gqlRequest{Query: doc, Variables: vars})
	if err != nil {
		return err
	}
	return retry.Do(ctx, c.maxElapsed, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", c.apiKey)
		resp, err := c.http.Do(req)
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues("linear", "transport_error").Inc()
			c.log.Warn().Err(err).Msg("linear request failed")
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			metrics.UpstreamRequests.WithLabelValues("linear", "status_error").Inc()
			return &retry.StatusError{Source: "linear", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []gqlError      `json:"errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return retry.Permanent(fmt.Errorf("linear: decode response: %w", err))
		}
		if len(envelope.Errors) > 0 {
			metrics.UpstreamRequests.WithLabelValues("linear", "graphql_error").Inc()
			msgs := make([]string, 0, len(envelope.Errors))
			for _, e := range envelope.Errors {
				msgs = append(msgs, e.Message)
			}
			return retry.Permanent(fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; ")))
		}
		metrics.UpstreamRequests.WithLabelValues("linear", "ok").Inc()
		if out == nil || len(envelope.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return retry.Permanent(fmt.Errorf("linear: decode data: %w", err))
		}
		return nil
	})
}

const projectsQuery = `query TeamProjects($teamId: String!, $first: Int!) {
  team(id: $teamId) {
    projects(first: $first) {
      nodes { id name description state startDate targetDate lead { id name } }
      pageInfo { hasNextPage }
    }
  }
}`

type projectNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	State       string `json:"state"`
	StartDate   string `json:"startDate"`
	TargetDate  string `json:"targetDate"`
	Lead        *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"lead"`
}

// FetchProjects returns every project of the configured team in API order.
// A team whose projects do not fit one page is an error.
func (c *Client) FetchProjects(ctx context.Context) ([]domain.IssueProject, error) {
	var data struct {
		Team *struct {
			Projects struct {
				Nodes    []projectNode `json:"nodes"`
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
			} `json:"projects"`
		} `json:"team"`
	}
	if err := c.query(ctx, projectsQuery, map[string]any{"teamId": c.teamID, "first": projectsPageSize}, &data); err != nil {
		return nil, fmt.Errorf("fetch linear projects: %w", err)
	}
	if data.Team == nil {
		return nil, fmt.Errorf("fetch linear projects: %w: team %q not found", ErrGraphQL, c.teamID)
	}
	// Matching against a partial list would silently drop projects.
	if data.Team.Projects.PageInfo.HasNextPage {
		return nil, fmt.Errorf("fetch linear projects: %w (%d)", ErrTooManyProjects, projectsPageSize)
	}
	out := make([]domain.IssueProject, 0, len(data.Team.Projects.Nodes))
	for _, n := range data.Team.Projects.Nodes {
		p := domain.IssueProject{
			ID:          n.ID,
			Name:        n.Name,
			Description: n.Description,
			State:       n.State,
			StartDate:   n.StartDate,
			TargetDate:  n.TargetDate,
		}
		if n.Lead != nil {
			p.LeadID, p.LeadName = n.Lead.ID, n.Lead.Name
		}
		out = append(out, p)
	}
	c.log.Debug().Int("projects", len(out)).Msg("linear projects fetched")
	return out, nil
}

const issuesQuery = `query ProjectIssues($projectId: ID!, $first: Int!, $after: String) {
  issues(filter: { project: { id: { eq: $projectId } } }, first: $first, after: $after) {
    nodes {
      identifier title
      labels { nodes { name } }
      delegate { id name }
      project { name }
      startedAt completedAt createdAt updatedAt
    }
    pageInfo { hasNextPage endCursor }
  }
}`

type issueNode struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Labels     struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Delegate *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"delegate"`
	Project *struct {
		Name string `json:"name"`
	} `json:"project"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// FetchProjectIssues walks the cursor pages of a project's issues.
func (c *Client) FetchProjectIssues(ctx context.Context, projectID string) ([]domain.Issue, error) {
	var out []domain.Issue
	var after *string
	for {
		var data struct {
			Issues struct {
				Nodes    []issueNode `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"issues"`
		}
		vars := map[string]any{"projectId": projectID, "first": issuesPageSize, "after": after}
		if err := c.query(ctx, issuesQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("fetch linear issues for project %s: %w", projectID, err)
		}
		for _, n := range data.Issues.Nodes {
			out = append(out, toIssue(n))
		}
		if !data.Issues.PageInfo.HasNextPage || data.Issues.PageInfo.EndCursor == "" {
			break
		}
		cursor := data.Issues.PageInfo.EndCursor
		after = &cursor
	}
	return out, nil
}

func toIssue(n issueNode) domain.Issue {
	iss := domain.Issue{
		Identifier:  n.Identifier,
		Title:       n.Title,
		StartedAt:   n.StartedAt,
		CompletedAt: n.CompletedAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
	for _, l := range n.Labels.Nodes {
		iss.Labels = append(iss.Labels, l.Name)
	}
	if n.Delegate != nil {
		iss.DelegateID, iss.DelegateName = n.Delegate.ID, n.Delegate.Name
	}
	if n.Project != nil {
		iss.ProjectName = n.Project.Name
	}
	return iss
}
