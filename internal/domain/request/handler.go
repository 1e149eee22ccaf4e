package request

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketplace/internal/domain/catalog"
	"marketplace/internal/middleware"
	"marketplace/internal/pkg/apperr"
	"marketplace/internal/pkg/response"
	"marketplace/internal/pkg/validator"
)

// CreateRequest names the target listing with exactly one of the id
// columns.
type CreateRequest struct {
	catalog.RefColumns
	AvailabilityID *int64 `json:"availability_id" validate:"omitempty,gt=0"`
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/requests")
	{
		g.POST("", h.Create)
		g.GET("/sent", h.Sent)
		g.GET("/received", h.Received)
		g.POST("/:id/accept", h.resolve(DecisionAccept))
		g.POST("/:id/refuse", h.resolve(DecisionRefuse))
		g.POST("/:id/read", h.MarkRead)
		g.DELETE("/:id", h.Delete)
		g.GET("/:id/quote", h.Quote)
	}
}

func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}
	ref, err := req.Ref()
	if err != nil {
		response.FromError(c, err)
		return
	}

	created, err := h.service.Create(c.Request.Context(), userID, ref, req.AvailabilityID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

func (h *Handler) Sent(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	views, err := h.service.FetchSent(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"requests": views})
}

func (h *Handler) Received(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	views, err := h.service.FetchReceived(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"requests": views})
}

func (h *Handler) resolve(decision Decision) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.MustUserID(c)
		if !ok {
			return
		}
		id, ok := requestID(c)
		if !ok {
			return
		}
		updated, err := h.service.Resolve(c.Request.Context(), id, userID, decision)
		if err != nil {
			response.FromError(c, err)
			return
		}
		response.Success(c, http.StatusOK, updated)
	}
}

func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	id, ok := requestID(c)
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), id, userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"is_read": true})
}

// Delete answers 204 for a request that is already gone so retries are
// harmless.
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	id, ok := requestID(c)
	if !ok {
		return
	}
	err := h.service.Delete(c.Request.Context(), id, userID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		response.FromError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Quote(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	id, ok := requestID(c)
	if !ok {
		return
	}
	q, err := h.service.Quote(c.Request.Context(), id, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, q)
}

func requestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid request ID")
		return 0, false
	}
	return id, true
}
