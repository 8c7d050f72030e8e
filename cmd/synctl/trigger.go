/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HamedShams/timepulse/internal/config"
	"github.com/spf13/cobra"
)

func triggerCmd() *cobra.Command {
	var (
		baseURL string
		secret  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a deployed server to run the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if baseURL == "" {
				baseURL = cfg.PublicBaseURL
			}
			if secret == "" {
				secret = cfg.CronSecret
			}
			if secret == "" {
				return fmt.Errorf("trigger: CRON_SECRET or --secret is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			body, err := trigger(ctx, http.DefaultClient, baseURL, secret)
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return err
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server base URL (defaults to PUBLIC_BASE_URL)")
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret (defaults to CRON_SECRET)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "How long to wait for the run")
	return cmd
}

// trigger POSTs to the sync endpoint and returns the response body.
func trigger(ctx context.Context, hc *http.Client, baseURL, secret string) (string, error) {
	u := strings.TrimRight(baseURL, "/") + "/api/cron/sync"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return string(b), fmt.Errorf("trigger: %s returned %d", u, resp.StatusCode)
	}
	return string(b), nil
}
