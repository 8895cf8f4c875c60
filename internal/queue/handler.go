package queue

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/request-queue-system/pkg/models"
)

// GuestResolver turns the opaque identity a client presents into a guest of
// the event. Owned by the guest package.
type GuestResolver interface {
	Resolve(ctx context.Context, eventID uuid.UUID, identityKey, displayName string) (*models.Guest, error)
}

type Handler struct {
	service *Service
	guests  GuestResolver
}

func NewHandler(service *Service, guests GuestResolver) *Handler {
	return &Handler{service: service, guests: guests}
}

func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/events/:id/requests", h.submitRequest)
	r.GET("/events/:id/queue/:module", h.listQueue)
}

func (h *Handler) RegisterOperatorRoutes(r *gin.RouterGroup) {
	r.PATCH("/events/:id/requests/:requestId/status", h.updateStatus)
	r.PATCH("/events/:id/requests/:requestId/priority", h.setPriority)
	r.PUT("/events/:id/queue/:module/order", h.reorderQueue)
	r.DELETE("/events/:id/requests/:requestId", h.deleteRequest)
}

// writeError translates the engine's error taxonomy into HTTP statuses.
// Policy rejections go back verbatim so clients can correct and retry; store
// failures surface as a generic 500.
func writeError(c *gin.Context, err error) {
	var validation *ValidationError
	var cooldown *CooldownError
	var transition *TransitionError
	var reorder *ReorderError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.Is(err, ErrKindMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrModuleDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": transition.Error(), "from": transition.From, "to": transition.To})
	case errors.As(err, &reorder):
		c.JSON(http.StatusConflict, gin.H{"error": reorder.Error()})
	case errors.As(err, &cooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       cooldown.Error(),
			"retry_after": int(cooldown.Remaining.Seconds()),
		})
	default:
		log.Printf("queue: internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func eventIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return uuid.Nil, false
	}
	return id, true
}

func requestIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return uuid.Nil, false
	}
	return id, true
}

type SubmitRequestBody struct {
	Kind        models.RequestKind `json:"kind" binding:"required"`
	DisplayName string             `json:"display_name"`
	Track       models.TrackRef    `json:"track" binding:"required"`
}

func (h *Handler) submitRequest(c *gin.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	identityKey := c.GetHeader("X-Guest-Key")
	if identityKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Guest-Key header is required"})
		return
	}

	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	guest, err := h.guests.Resolve(c.Request.Context(), eventID, identityKey, body.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}

	req, err := h.service.SubmitRequest(c.Request.Context(), eventID, guest.ID, body.Kind, body.Track)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

func (h *Handler) listQueue(c *gin.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	kind := models.RequestKind(c.Param("module"))
	filter := ListFilter(c.Query("filter"))

	items, err := h.service.ListQueue(c.Request.Context(), eventID, kind, filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

type UpdateStatusBody struct {
	Status models.RequestStatus `json:"status" binding:"required"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}

	var body UpdateStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.service.UpdateStatus(c.Request.Context(), eventID, requestID, body.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

type SetPriorityBody struct {
	Priority int `json:"priority"`
}

func (h *Handler) setPriority(c *gin.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}

	var body SetPriorityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.service.SetPriority(c.Request.Context(), eventID, requestID, body.Priority)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

type ReorderBody struct {
	OrderedIDs []uuid.UUID `json:"ordered_ids" binding:"required"`
}

func (h *Handler) reorderQueue(c *gin.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	kind := models.RequestKind(c.Param("module"))

	var body ReorderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	queue, err := h.service.ReorderQueue(c.Request.Context(), eventID, kind, body.OrderedIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, queue)
}

func (h *Handler) deleteRequest(c *gin.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}

	if err := h.service.DeleteRequest(c.Request.Context(), eventID, requestID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
