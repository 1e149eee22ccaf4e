package chat

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketplace/internal/middleware"
	"marketplace/internal/pkg/response"
	"marketplace/internal/pkg/validator"
)

// ReadMarker marks a conversation read. The unread aggregator implements
// it so the badge updates optimistically.
type ReadMarker interface {
	MarkMessagesRead(ctx context.Context, userID, senderID int64) error
}

type SendMessageRequest struct {
	RecipientID int64  `json:"recipient_id" validate:"required,gt=0"`
	Body        string `json:"body" validate:"required,max=4000"`
}

type Handler struct {
	service *Service
	reads   ReadMarker
}

func NewHandler(service *Service, reads ReadMarker) *Handler {
	return &Handler{service: service, reads: reads}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	messages := r.Group("/messages")
	{
		messages.POST("", h.Send)
		messages.POST("/:sender_id/read", h.MarkRead)
	}
}

func (h *Handler) Send(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}

	msg, err := h.service.Send(c.Request.Context(), userID, req.RecipientID, req.Body)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	senderID, err := strconv.ParseInt(c.Param("sender_id"), 10, 64)
	if err != nil || senderID <= 0 {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid sender ID")
		return
	}
	if err := h.reads.MarkMessagesRead(c.Request.Context(), userID, senderID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"read": true})
}
