package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/repo"
)

const ContextAPIKeyIDKey = "api_key_id"

// APIKeyAuth authenticates requests by the X-API-Key header against the
// active keys, comparing in constant time. On success the key id lands in
// the gin context and last_used is touched best effort.
func APIKeyAuth(keys *repo.APIKeyRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-API-Key")
		if presented == "" {
			response.Error(c, http.StatusUnauthorized, "invalid_api_key", "missing api key")
			c.Abort()
			return
		}
		active, err := keys.ListActive(c.Request.Context())
		if err != nil {
			logutil.GetLogger(c.Request.Context()).Error("load api keys failed", zap.Error(err))
			response.Error(c, http.StatusInternalServerError, "internal_error", "internal error")
			c.Abort()
			return
		}
		matchedID := ""
		for _, key := range active {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key.Key)) == 1 {
				matchedID = key.ID
			}
		}
		if matchedID == "" {
			response.Error(c, http.StatusUnauthorized, "invalid_api_key", "invalid api key")
			c.Abort()
			return
		}
		if err := keys.TouchLastUsed(c.Request.Context(), matchedID); err != nil {
			logutil.GetLogger(c.Request.Context()).Warn("touch api key failed", zap.Error(err))
		}
		c.Set(ContextAPIKeyIDKey, matchedID)
		c.Next()
	}
}

// APIKeyID returns the authenticated key id set by APIKeyAuth.
func APIKeyID(c *gin.Context) string {
	if v, ok := c.Get(ContextAPIKeyIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
