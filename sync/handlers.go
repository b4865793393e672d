package sync

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the sync API. The handlers stay thin; everything
// they do is callable without gin.
func RegisterRoutes(router *gin.RouterGroup, service *Service) {
	router.POST("/business/:id", SyncBusinessHandler(service))
	router.POST("/shop/:id", SyncShopHandler(service))
	router.POST("/upload", UploadHandler(service))
	router.GET("/download", DownloadHandler(service))
	router.POST("/queue", EnqueueActionHandler(service))
	router.POST("/queue/flush", FlushQueueHandler(service))
	router.GET("/runs", SyncHistoryHandler())
	router.GET("/runs/:id", SyncRunDetailHandler())
	router.POST("/runs/:id/retry", RetrySyncRunHandler(service))
	router.GET("/conflicts", ListConflictsHandler())
	router.POST("/conflicts/:id/resolve", ResolveConflictHandler(service))
}

func contextBusinessId(c *gin.Context) (string, bool) {
	businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(businessId) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return businessId, true
}

func syncInline() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("POS_SYNC_INLINE")))
	return v == "1" || v == "true" || v == "yes"
}

func SyncBusinessHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := contextBusinessId(c)
		if !ok {
			return
		}
		target := strings.TrimSpace(c.Param("id"))
		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if target != businessId && !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), target)

		if syncInline() {
			result, err := service.Orchestrator.SyncBusiness(ctx, target, models.SyncTriggeredManual)
			if err != nil {
				writeSyncError(c, err)
				return
			}
			c.JSON(http.StatusOK, result)
			return
		}

		if _, err := models.GetBusinessById(ctx, target); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "business not found"})
			return
		}

		run := &models.SyncRun{
			BusinessId:  target,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredManual,
		}
		if err := models.CreateSyncRun(ctx, run); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := PublishSyncRun(ctx, run.ID, target); err != nil {
			// No broker available: run it here rather than strand the run.
			result, execErr := service.Orchestrator.ExecuteRun(ctx, run)
			if execErr != nil {
				writeSyncError(c, execErr)
				return
			}
			c.JSON(http.StatusOK, result)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": run.ID, "status": run.Status})
	}
}

func SyncShopHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := contextBusinessId(c); !ok {
			return
		}
		shopId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shop id"})
			return
		}

		result, err := service.Orchestrator.SyncShop(c.Request.Context(), shopId, models.SyncTriggeredManual)
		if err != nil {
			writeSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type uploadRequest struct {
	DeviceId string       `json:"device_id"`
	Items    []UploadItem `json:"items" binding:"required"`
}

func UploadHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := contextBusinessId(c); !ok {
			return
		}

		var req uploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		deviceId := strings.TrimSpace(req.DeviceId)
		if deviceId == "" {
			deviceId, _ = utils.GetDeviceIdFromContext(c.Request.Context())
		}
		if deviceId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
			return
		}

		result, err := service.Transfer.Upload(c.Request.Context(), deviceId, req.Items, nil)
		if err != nil {
			writeSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func DownloadHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := contextBusinessId(c); !ok {
			return
		}

		since := time.Time{}
		if v := strings.TrimSpace(c.Query("since")); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
				return
			}
			since = parsed
		}

		sinceId := strings.TrimSpace(c.Query("since_id"))

		deviceId := strings.TrimSpace(c.Query("device_id"))
		if deviceId == "" {
			deviceId, _ = utils.GetDeviceIdFromContext(c.Request.Context())
		}

		result, err := service.Transfer.Download(c.Request.Context(), deviceId, since, sinceId)
		if err != nil {
			writeSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type enqueueRequest struct {
	DeviceId   string            `json:"device_id"`
	ActionType models.ActionType `json:"action_type" binding:"required"`
	EntityType models.EntityType `json:"entity_type" binding:"required"`
	EntityId   string            `json:"entity_id" binding:"required"`
	Payload    []byte            `json:"payload"`
}

func EnqueueActionHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := contextBusinessId(c)
		if !ok {
			return
		}

		var req enqueueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		deviceId := strings.TrimSpace(req.DeviceId)
		if deviceId == "" {
			deviceId, _ = utils.GetDeviceIdFromContext(c.Request.Context())
		}

		action := &models.PendingAction{
			BusinessId:  businessId,
			DeviceId:    deviceId,
			ActionType:  req.ActionType,
			EntityType:  req.EntityType,
			EntityId:    req.EntityId,
			PayloadJSON: req.Payload,
		}
		if err := service.Queue.Enqueue(c.Request.Context(), action); err != nil {
			writeSyncError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": action.ID})
	}
}

func FlushQueueHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := contextBusinessId(c)
		if !ok {
			return
		}

		deviceId := strings.TrimSpace(c.Query("device_id"))
		if deviceId == "" {
			deviceId, _ = utils.GetDeviceIdFromContext(c.Request.Context())
		}
		if deviceId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
			return
		}

		result, err := service.Queue.Flush(c.Request.Context(), businessId, deviceId)
		if err != nil {
			writeSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := contextBusinessId(c)
		if !ok {
			return
		}

		limit := 0
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		runs, err := models.ListSyncRuns(c.Request.Context(), businessId, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := contextBusinessId(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		run, err := models.GetSyncRun(c.Request.Context(), businessId, uint(id))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		runErrors, err := models.ListSyncRunErrors(c.Request.Context(), businessId, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "errors": runErrors})
	}
}

func RetrySyncRunHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := contextBusinessId(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		parent, err := models.GetSyncRun(c.Request.Context(), businessId, uint(id))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		run := &models.SyncRun{
			BusinessId:  businessId,
			ShopId:      parent.ShopId,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ParentRunId: &parent.ID,
		}
		if err := models.CreateSyncRun(c.Request.Context(), run); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := PublishSyncRun(c.Request.Context(), run.ID, businessId); err != nil {
			result, execErr := service.Orchestrator.ExecuteRun(c.Request.Context(), run)
			if execErr != nil {
				writeSyncError(c, execErr)
				return
			}
			c.JSON(http.StatusOK, result)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": run.ID, "status": run.Status})
	}
}

func ListConflictsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := contextBusinessId(c)
		if !ok {
			return
		}

		var conflicts []*models.DataConflict
		var err error
		switch strings.TrimSpace(c.Query("queue")) {
		case "manual":
			conflicts, err = models.ListManualConflicts(c.Request.Context(), businessId)
		default:
			conflicts, err = models.ListOpenConflicts(c.Request.Context(), businessId)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": conflicts})
	}
}

type resolveConflictRequest struct {
	Outcome models.ResolutionOutcome `json:"outcome" binding:"required"`
	Note    string                   `json:"note"`
}

func ResolveConflictHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := contextBusinessId(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
			return
		}

		var req resolveConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		conflict, err := models.GetDataConflict(c.Request.Context(), uint(id))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		if err := service.Resolver.ResolveManually(c.Request.Context(), conflict, req.Outcome, req.Note); err != nil {
			writeSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, conflict)
	}
}

func writeSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorIsolationViolation):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
