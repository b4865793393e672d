package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// RegisterProvisioningRoutes mounts the routes that exist before a tenant
// does. Business signup carries no session identity yet.
func RegisterProvisioningRoutes(router *gin.RouterGroup) {
	router.POST("/businesses", CreateBusinessHandler())
}

// RegisterRoutes mounts the tenant-scoped management API.
func RegisterRoutes(router *gin.RouterGroup) {
	router.PUT("/business", UpdateBusinessHandler())
	router.POST("/shops", CreateShopHandler())
	router.GET("/shops", ListShopsHandler())
	router.PUT("/shops/:id", UpdateShopHandler())
	router.POST("/devices", ProvisionDeviceHandler())
	router.GET("/devices", ListDevicesHandler())
	router.GET("/devices/:id", GetDeviceHandler())
	router.GET("/sales", ListSalesHandler())
	router.GET("/sales/:id", GetSaleHandler())
}

func CreateBusinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBusiness
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindingError(c, err)
			return
		}

		business, err := models.CreateBusiness(c.Request.Context(), &input)
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusCreated, business)
	}
}

func UpdateBusinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBusiness
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindingError(c, err)
			return
		}

		business, err := models.UpdateBusiness(c.Request.Context(), &input)
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusOK, business)
	}
}

func CreateShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewShop
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindingError(c, err)
			return
		}

		shop, err := models.CreateShop(c.Request.Context(), &input)
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusCreated, shop)
	}
}

func ListShopsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := utils.NilIfEmpty(strings.TrimSpace(c.Query("name")))

		shops, err := models.GetShops(c.Request.Context(), name)
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": shops})
	}
}

func UpdateShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shop id"})
			return
		}

		var input models.NewShop
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindingError(c, err)
			return
		}

		shop, err := models.UpdateShop(c.Request.Context(), id, &input)
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusOK, shop)
	}
}

func ProvisionDeviceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewDevice
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindingError(c, err)
			return
		}

		device, err := models.ProvisionDevice(c.Request.Context(), &input)
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusCreated, device)
	}
}

func ListDevicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		devices, err := models.GetDevices(c.Request.Context())
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": devices})
	}
}

func GetDeviceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		device, err := models.GetDevice(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusOK, device)
	}
}

func ListSalesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shopId, err := strconv.Atoi(strings.TrimSpace(c.Query("shop_id")))
		if err != nil {
			shopId = 0
		}

		var fromDate, toDate *time.Time
		if v := strings.TrimSpace(c.Query("from")); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
				return
			}
			fromDate = &parsed
		}
		if v := strings.TrimSpace(c.Query("to")); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
				return
			}
			toDate = &parsed
		}

		sales, err := models.GetSales(c.Request.Context(), utils.NilIfEmpty(shopId), fromDate, toDate)
		if err != nil {
			writeApiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": sales})
	}
}

func GetSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := models.GetSale(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeApiError(c, err)
			return
		}

		localSaleDate := sale.SaleDate
		if business, err := models.GetBusinessById(c.Request.Context(), sale.BusinessId); err == nil {
			localSaleDate = utils.ConvertToLocalTime(sale.SaleDate, business.Timezone)
		}
		c.JSON(http.StatusOK, gin.H{"sale": sale, "local_sale_date": localSaleDate})
	}
}

func writeBindingError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func writeApiError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
