package session

import (
	"errors"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(router *gin.RouterGroup, manager *Manager) {
	router.POST("", CreateSessionHandler(manager))
	router.GET("", ListSessionsHandler(manager))
	router.GET("/:id", GetSessionHandler(manager))
	router.POST("/:id/items", AddItemHandler(manager))
	router.PUT("/:id/items/:productId", UpdateItemHandler(manager))
	router.DELETE("/:id/items/:productId", RemoveItemHandler(manager))
	router.POST("/:id/save", SaveSessionHandler(manager))
	router.GET("/:id/validate", ValidateSessionHandler(manager))
	router.POST("/:id/switch", SwitchSessionHandler(manager))
	router.POST("/:id/suspend", SuspendSessionHandler(manager))
	router.POST("/:id/resume", ResumeSessionHandler(manager))
	router.POST("/:id/close", CloseSessionHandler(manager))
	router.POST("/:id/complete", CompleteSessionHandler(manager))
	router.POST("/restore", RestoreSessionsHandler(manager))
}

type createSessionRequest struct {
	ShopId int    `json:"shop_id" binding:"required"`
	Label  string `json:"label"`
}

func CreateSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		session, err := manager.Create(c.Request.Context(), req.ShopId, req.Label)
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

func ListSessionsHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		deviceId, _ := utils.GetDeviceIdFromContext(c.Request.Context())

		sessions := manager.ListOpen(c.Request.Context(), userId, deviceId)
		currentId, _ := manager.Current(userId, deviceId)
		c.JSON(http.StatusOK, gin.H{"items": sessions, "current": currentId})
	}
}

func GetSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, utils.ErrorRecordNotFound) {
			// Completed and closed tabs leave the manager but stay readable
			// from their persisted rows.
			persisted, storeErr := models.GetSaleSession(c.Request.Context(), c.Param("id"))
			if storeErr == nil {
				c.JSON(http.StatusOK, persisted)
				return
			}
		}
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func SaveSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.Save(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func ValidateSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := manager.Validate(c.Request.Context(), c.Param("id")); err != nil {
			if utils.IsValidationError(err) {
				c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
				return
			}
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true})
	}
}

func AddItemHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var item models.SaleSessionItem
		if err := c.ShouldBindJSON(&item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		session, err := manager.AddItem(c.Request.Context(), c.Param("id"), item)
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func UpdateItemHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var item models.SaleSessionItem
		if err := c.ShouldBindJSON(&item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		session, err := manager.UpdateItem(c.Request.Context(), c.Param("id"), c.Param("productId"), item)
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func RemoveItemHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("productId"))
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func SwitchSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.Switch(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func SuspendSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.Suspend(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func ResumeSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := manager.Resume(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

type closeSessionRequest struct {
	SaveState *bool `json:"save_state"`
}

func CloseSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req closeSessionRequest
		_ = c.ShouldBindJSON(&req)
		saveState := req.SaveState == nil || *req.SaveState

		if err := manager.Close(c.Request.Context(), c.Param("id"), saveState); err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

type completeSessionRequest struct {
	PaymentMethod models.PaymentMethod `json:"payment_method"`
}

func CompleteSessionHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req completeSessionRequest
		_ = c.ShouldBindJSON(&req)
		if strings.TrimSpace(string(req.PaymentMethod)) == "" {
			req.PaymentMethod = models.PaymentMethodCash
		}

		sale, err := manager.Complete(c.Request.Context(), c.Param("id"), req.PaymentMethod)
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, sale)
	}
}

func RestoreSessionsHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		deviceId, _ := utils.GetDeviceIdFromContext(c.Request.Context())
		if deviceId == "" {
			deviceId = strings.TrimSpace(c.Query("device_id"))
		}

		restored, err := manager.Restore(c.Request.Context(), businessId, deviceId)
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"restored": restored})
	}
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
