package unread

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace/internal/middleware"
	"marketplace/internal/pkg/response"
)

type Handler struct {
	aggregator *Aggregator
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/unread")
	{
		g.GET("", h.Get)
		g.POST("/received/seen", h.ReceivedSeen)
		g.POST("/sent/seen", h.SentSeen)
	}
}

func (h *Handler) Get(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	counts, err := h.aggregator.Counts(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, counts)
}

func (h *Handler) ReceivedSeen(c *gin.Context) {
	h.markSeen(c, h.aggregator.MarkReceivedSeen)
}

func (h *Handler) SentSeen(c *gin.Context) {
	h.markSeen(c, h.aggregator.MarkSentSeen)
}

func (h *Handler) markSeen(c *gin.Context, mark func(ctx context.Context, userID int64) error) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	if err := mark(c.Request.Context(), userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Marked as seen"})
}
