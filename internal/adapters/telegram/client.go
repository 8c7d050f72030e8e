/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

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

	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/metrics"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.telegram.org"

var ErrNotConfigured = errors.New("telegram: missing token or chat id")

// Client posts run summaries to Telegram chats.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{token: cfg.TelegramToken, baseURL: defaultBaseURL, http: &http.Client{Timeout: 10 * time.Second}, log: log}
}

// Enabled reports whether a bot token is set.
func (c *Client) Enabled() bool { return c.token != "" }

// SendMessagePlain sends without parse_mode; summaries contain characters
// Markdown would reject.
func (c *Client) SendMessagePlain(ctx context.Context, chatID int64, text string) error {
	if c.token == "" || chatID == 0 {
		return ErrNotConfigured
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(c.baseURL, "/"), c.token)
	body := map[string]any{"chat_id": chatID, "text": text, "disable_web_page_preview": true}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("telegram", "transport_error").Inc()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		metrics.UpstreamRequests.WithLabelValues("telegram", "status_error").Inc()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram sendMessage status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}
	metrics.UpstreamRequests.WithLabelValues("telegram", "ok").Inc()
	c.log.Debug().Int64("chat", chatID).Msg("telegram message sent")
	return nil
}
