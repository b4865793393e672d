package middlewares

import (
	"context"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the caller's identity into the request context.
// Two schemes are accepted: an opaque "token" header looked up in redis
// (issued by the external auth service) or an Authorization Bearer JWT.
// Requests without either pass through anonymous; handlers decide what
// requires identity.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if deviceId := strings.TrimSpace(c.Request.Header.Get("x-device-id")); deviceId != "" {
			ctx = utils.SetDeviceIdInContext(ctx, deviceId)
		}

		token := c.Request.Header.Get("token")
		if token != "" {
			username, exists, err := config.GetRedisValue("Token:" + token)
			if err != nil || !exists {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}

			ctx = utils.SetTokenInContext(ctx, token)
			ctx = utils.SetUsernameInContext(ctx, username)

			user, err := models.GetUserByUsername(ctx, username)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			ctx = applyUser(ctx, user)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		auth := c.Request.Header.Get("Authorization")
		if auth != "" && strings.HasPrefix(auth, "Bearer ") {
			validated, err := utils.JwtValidate(strings.TrimPrefix(auth, "Bearer "))
			if err != nil || !validated.Valid {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}

			claim, ok := validated.Claims.(*utils.JwtCustomClaim)
			if !ok {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}

			ctx = utils.SetUserIdInContext(ctx, claim.ID)
			if claim.DeviceId != "" {
				ctx = utils.SetDeviceIdInContext(ctx, claim.DeviceId)
			}
			if claim.Role == models.UserRoleAdmin {
				ctx = utils.SetIsAdminInContext(ctx, true)
			}
			if claim.Subject != "" {
				ctx = utils.SetUsernameInContext(ctx, claim.Subject)
				if user, err := models.GetUserByUsername(ctx, claim.Subject); err == nil {
					ctx = applyUser(ctx, user)
				}
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func applyUser(ctx context.Context, user *models.User) context.Context {
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	ctx = utils.SetBusinessIdInContext(ctx, user.BusinessId)
	if user.Role == models.UserRoleAdmin {
		ctx = utils.SetIsAdminInContext(ctx, true)
	}
	return ctx
}
