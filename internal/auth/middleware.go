package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/request-queue-system/pkg/jwt"
)

// OperatorAuth guards the operator console routes. Tokens are issued when an
// event is created and are scoped to that event; a token for one event does
// not open another.
func OperatorAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
		if token == "" {
			// WebSocket clients cannot set headers.
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing operator token"})
			return
		}

		claims, err := jwt.ValidateToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if eventID := c.Param("id"); eventID != "" && claims.EventID != eventID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token is for a different event"})
			return
		}

		c.Set("event_id", claims.EventID)
		c.Set("role", claims.Role)
		c.Next()
	}
}
