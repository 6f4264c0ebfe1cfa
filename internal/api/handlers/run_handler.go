package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/internal/repository"
	"github.com/andresuchdata/radosmigrate/internal/service"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

const maxListLimit = 500

type RunHandler struct {
	service *service.RunService
}

func NewRunHandler(service *service.RunService) *RunHandler {
	return &RunHandler{service: service}
}

func (h *RunHandler) parseFilter(c *gin.Context) (domain.RunFilter, error) {
	filter := domain.RunFilter{Limit: 50}

	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = min(limit, maxListLimit)
	}

	// Accept both ?state=a&state=b and ?state=a,b
	for _, v := range c.QueryArray("state") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			state, ok := domain.ParseRunState(part)
			if !ok {
				return filter, fmt.Errorf("unknown state %q", part)
			}
			filter.States = append(filter.States, state)
		}
	}

	filter.Pool = strings.TrimSpace(c.Query("pool"))
	return filter, nil
}

// ListRuns handles GET /api/v1/runs
func (h *RunHandler) ListRuns(c *gin.Context) {
	filter, err := h.parseFilter(c)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.service.ListRuns(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs, "count": len(runs)})
}

// GetRun handles GET /api/v1/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetProgress handles GET /api/v1/runs/:id/progress
func (h *RunHandler) GetProgress(c *gin.Context) {
	id := c.Param("id")
	state, pools, err := h.service.GetProgress(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id": id,
		"state":  state,
		"label":  state.Label(),
		"pools":  pools,
	})
}

func (h *RunHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrRunNotFound):
		errorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrHistoryDisabled):
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Log.Error().Err(err).Str("path", c.FullPath()).Msg("run query failed")
		errorResponse(c, http.StatusInternalServerError, "internal error")
	}
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": message})
}
