package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/manager"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/middleware"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/version"
)

// StatusHandlers serve read-only views of installed instances.
type StatusHandlers struct {
	manager *manager.Manager
	// StreamInterval is the SSE snapshot period.
	StreamInterval time.Duration
}

func NewStatusHandlers(mgr *manager.Manager) *StatusHandlers {
	return &StatusHandlers{manager: mgr, StreamInterval: 2 * time.Second}
}

func (h *StatusHandlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StatusHandlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Current())
}

// Check reports presence and staleness of an instance: GET
// /api/instances/:id/check?build=N
func (h *StatusHandlers) Check(c *gin.Context) {
	id, err := middleware.InstanceParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	build, ok, err := middleware.BuildQuery(c, "build")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var expected *int
	if ok {
		expected = &build
	}
	res, err := h.manager.Checker.CheckInstallation(id, expected)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Health hashes the client and classifies it: GET
// /api/instances/:id/health?build=N&hash=H
func (h *StatusHandlers) Health(c *gin.Context) {
	id, err := middleware.InstanceParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	build, ok, err := middleware.BuildQuery(c, "build")
	if err == nil && !ok {
		err = errors.New("build is required")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, err := middleware.HashQuery(c, "hash")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.manager.Checker.PatchHealth(id, build, hash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StatusHandlers) Progress(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.ProgressSnapshot())
}

// ProgressStream pushes progress snapshots as server-sent events until the
// client goes away.
func (h *StatusHandlers) ProgressStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	send := func() {
		c.SSEvent("progress", h.manager.ProgressSnapshot())
		if f, ok := c.Writer.(http.Flusher); ok {
			f.Flush()
		}
	}
	send()

	ticker := time.NewTicker(h.StreamInterval)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch models.KindOf(err) {
	case models.KindUnsupportedPlatform:
		status = http.StatusNotImplemented
	case models.KindMissingFile:
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": models.KindOf(err)})
}
