package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"CrmSync/internal/model"
	"CrmSync/internal/service"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// SyncService is what the handlers need from the orchestrator.
type SyncService interface {
	RunSync(ctx context.Context, trigger model.Trigger, objectTypes ...model.ObjectType) (*service.RunSummary, error)
	LastRuns(ctx context.Context) ([]model.SyncCursor, error)
	ObjectCounts(ctx context.Context) (map[model.ObjectType]int64, error)
	RecentRuns(ctx context.Context, limit int) ([]*model.SyncRun, error)
}

type SyncHandler struct {
	syncService SyncService
	logger      *logrus.Logger
}

func NewSyncHandler(syncService SyncService, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// RunSync triggers an on-demand sync
// @Summary Run an on-demand sync
// @Param object_type query string false "contacts, calls or deals; all configured types when empty"
// @Success 200 {object} service.RunSummary
// @Failure 400 {object} map[string]string
// @Router /sync/run [post]
func (h *SyncHandler) RunSync(c *gin.Context) {
	var types []model.ObjectType
	if v := c.Query("object_type"); v != "" {
		t := model.ObjectType(v)
		if !t.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown object_type " + strconv.Quote(v)})
			return
		}
		types = append(types, t)
	}

	summary, err := h.syncService.RunSync(c.Request.Context(), model.TriggerOnDemand, types...)
	if err != nil {
		h.logger.WithError(err).Error("on-demand sync failed to start")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Status returns the cursor and mirrored row count of every object type
// @Router /sync/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	cursors, err := h.syncService.LastRuns(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("load sync status failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	counts, err := h.syncService.ObjectCounts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("count mirrored objects failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cursors": cursors, "objects": counts})
}

// Runs lists recent runs, newest first
// GET /sync/runs?limit=20
func (h *SyncHandler) Runs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunsLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	limit = min(limit, maxRunsLimit)

	runs, err := h.syncService.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("load sync runs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
