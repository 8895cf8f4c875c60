package guest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/events/:id/guests", h.join)
}

type JoinRequest struct {
	DisplayName string `json:"display_name"`
}

// join registers the caller as a guest of the event and returns their guest
// record. Idempotent per identity key.
func (h *Handler) join(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	identityKey := c.GetHeader("X-Guest-Key")
	if identityKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Guest-Key header is required"})
		return
	}

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	guest, err := h.service.Resolve(c.Request.Context(), eventID, identityKey, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, guest)
}
