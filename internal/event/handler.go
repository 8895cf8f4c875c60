package event

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/request-queue-system/pkg/database"
	"github.com/request-queue-system/pkg/jwt"
	"github.com/request-queue-system/pkg/models"
)

const operatorTokenTTL = 24 * time.Hour

type Handler struct {
	service   *Service
	jwtSecret string
}

func NewHandler(service *Service, jwtSecret string) *Handler {
	return &Handler{service: service, jwtSecret: jwtSecret}
}

func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.createEvent)
	r.GET("/events/:id", h.getEvent)
	r.GET("/events/code/:code", h.getEventByCode)
}

func (h *Handler) RegisterOperatorRoutes(r *gin.RouterGroup) {
	r.GET("/events/:id/modules/:module/config", h.getModuleConfig)
	r.PUT("/events/:id/modules/:module/config", h.updateModuleConfig)
}

type CreateEventRequest struct {
	Name string `json:"name" binding:"required"`
}

// createEvent creates the event and hands back an operator token scoped to
// it. The console stores the token and presents it on every mutating call.
func (h *Handler) createEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.service.CreateEvent(c.Request.Context(), req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := jwt.GenerateToken(h.jwtSecret, event.ID.String(), "operator", operatorTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"event":          event,
		"operator_token": token,
	})
}

func (h *Handler) getEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.service.GetEvent(c.Request.Context(), eventID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

func (h *Handler) getEventByCode(c *gin.Context) {
	event, err := h.service.GetEventByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

func moduleParam(c *gin.Context) (models.RequestKind, bool) {
	module := models.RequestKind(c.Param("module"))
	if !module.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "module must be song or karaoke"})
		return "", false
	}
	return module, true
}

func (h *Handler) getModuleConfig(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	module, ok := moduleParam(c)
	if !ok {
		return
	}

	cfg, err := h.service.ModuleConfig(c.Request.Context(), eventID, module)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

type UpdateModuleConfigRequest struct {
	Enabled         bool `json:"enabled"`
	CooldownSeconds int  `json:"cooldown_seconds"`
}

func (h *Handler) updateModuleConfig(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	module, ok := moduleParam(c)
	if !ok {
		return
	}

	var req UpdateModuleConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CooldownSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cooldown_seconds must not be negative"})
		return
	}

	cfg, err := h.service.UpdateModuleConfig(c.Request.Context(), eventID, module, req.Enabled, req.CooldownSeconds)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
