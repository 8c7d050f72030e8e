/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/repo"
	"github.com/HamedShams/timepulse/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type service interface {
	Run(ctx context.Context, trigger string) (*services.RunResult, error)
	LastRun(ctx context.Context) (*repo.LastRun, error)
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) bearerOK(c *gin.Context) bool {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && secretEqual(strings.TrimSpace(token), h.cfg.CronSecret)
}

func secretEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// RequireTrigger admits the hosting platform's scheduler (identified by its
// header) or any caller presenting the shared secret.
func (h *Handlers) RequireTrigger(c *gin.Context) {
	switch {
	case h.cfg.CronSchedulerHeader != "" && c.GetHeader(h.cfg.CronSchedulerHeader) != "":
		c.Set("trigger", "scheduler")
	case h.bearerOK(c), secretEqual(c.Query("secret"), h.cfg.CronSecret):
		c.Set("trigger", "manual")
	default:
		h.log.Warn().Str("ip", c.ClientIP()).Str("p", c.FullPath()).Msg("unauthorized trigger")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Next()
}

// RequireSecret admits only Bearer CRON_SECRET.
func (h *Handlers) RequireSecret(c *gin.Context) {
	if !h.bearerOK(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Next()
}

// Sync runs the pipeline and answers with its summary. The run outlives a
// client disconnect.
func (h *Handlers) Sync(c *gin.Context) {
	start := time.Now()
	trigger := c.GetString("trigger")
	ctx := context.WithoutCancel(c.Request.Context())

	res, err := h.svc.Run(ctx, trigger)
	took := time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		h.log.Error().Err(err).Str("trigger", trigger).Msg("sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":  false,
			"error":    "sync failed",
			"details":  err.Error(),
			"duration": took,
			"result":   res,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "sync completed",
		"duration": took,
		"result":   res,
	})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.svc.LastRun(c.Request.Context())
	if errors.Is(err, repo.ErrNoRuns) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lr)
}
