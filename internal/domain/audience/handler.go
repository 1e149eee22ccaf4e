package audience

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketplace/internal/domain/notification"
	"marketplace/internal/middleware"
	"marketplace/internal/pkg/response"
	"marketplace/internal/pkg/validator"
)

// Broadcaster fans an update out to a creator's followers.
type Broadcaster interface {
	BroadcastUpdate(ctx context.Context, creatorID int64, u notification.Update) int
}

type PublishUpdateRequest struct {
	Title     string `json:"title" validate:"required,max=255"`
	Message   string `json:"message" validate:"required,max=2000"`
	GroupID   *int64 `json:"group_id" validate:"omitempty,gt=0"`
	Private   bool   `json:"private"`
	RelatedID *int64 `json:"related_id" validate:"omitempty,gt=0"`
}

type Handler struct {
	service     *Service
	broadcaster Broadcaster
}

func NewHandler(service *Service, broadcaster Broadcaster) *Handler {
	return &Handler{service: service, broadcaster: broadcaster}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	creators := r.Group("/creators")
	{
		creators.POST("/:id/follow", h.Follow)
		creators.DELETE("/:id/follow", h.Unfollow)
	}
	r.POST("/updates", h.PublishUpdate)
}

// PublishUpdate notifies the caller's followers. Private updates need a
// group and reach its members only.
func (h *Handler) PublishUpdate(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	var req PublishUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}
	if req.Private && req.GroupID == nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Private updates need a group_id")
		return
	}

	sent := h.broadcaster.BroadcastUpdate(c.Request.Context(), userID, notification.Update{
		Title:     req.Title,
		Message:   req.Message,
		GroupID:   req.GroupID,
		Private:   req.Private,
		RelatedID: req.RelatedID,
	})
	response.Success(c, http.StatusAccepted, gin.H{"notified": sent})
}

func (h *Handler) Follow(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	creatorID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid creator ID")
		return
	}
	if err := h.service.Follow(c.Request.Context(), userID, creatorID); err != nil {
		switch {
		case errors.Is(err, ErrCannotFollowSelf):
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, ErrAlreadyFollowing):
			response.Error(c, http.StatusConflict, "ALREADY_FOLLOWING", err.Error())
		default:
			_ = c.Error(err)
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to follow creator")
		}
		return
	}
	response.Success(c, http.StatusOK, gin.H{"following": true})
}

func (h *Handler) Unfollow(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	creatorID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid creator ID")
		return
	}
	if err := h.service.Unfollow(c.Request.Context(), userID, creatorID); err != nil {
		if errors.Is(err, ErrNotFollowing) {
			response.Error(c, http.StatusNotFound, "NOT_FOLLOWING", err.Error())
			return
		}
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to unfollow creator")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"following": false})
}
