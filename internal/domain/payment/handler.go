package payment

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"marketplace/internal/middleware"
	"marketplace/internal/pkg/response"
	"marketplace/internal/pkg/validator"
)

type CreateIntentRequest struct {
	RequestID int64 `json:"request_id" validate:"required,gt=0"`
}

// ConfirmRequest carries a gateway outcome reported by the payer's client.
// A success only confirms a payment the gateway callback already verified.
type ConfirmRequest struct {
	RequestID int64   `json:"request_id" validate:"required,gt=0"`
	Success   bool    `json:"success"`
	PaymentID string  `json:"payment_id" validate:"required_if=Success true,max=128"`
	Amount    float64 `json:"amount" validate:"gte=0"`
	Reason    string  `json:"reason" validate:"max=500"`
}

type Handler struct {
	reconciler *Reconciler
	log        logrus.FieldLogger
}

func NewHandler(reconciler *Reconciler, log logrus.FieldLogger) *Handler {
	return &Handler{reconciler: reconciler, log: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/payments")
	{
		g.POST("/intents", h.CreateIntent)
		g.POST("/confirm", h.Confirm)
	}
	r.GET("/requests/:id/orders", h.Orders)
}

// RegisterPublicRoutes mounts the gateway callback, which authenticates by
// signature instead of a bearer token.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/payments/robokassa/result", h.ResultCallback)
}

func (h *Handler) CreateIntent(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}

	intent, err := h.reconciler.CreateIntent(c.Request.Context(), req.RequestID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, intent)
}

func (h *Handler) Confirm(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}

	result := Result{Success: req.Success, PaymentID: req.PaymentID, Reason: req.Reason}
	order, err := h.reconciler.Confirm(c.Request.Context(), req.RequestID, userID, result, req.Amount)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, order)
}

func (h *Handler) Orders(c *gin.Context) {
	userID, ok := middleware.MustUserID(c)
	if !ok {
		return
	}
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid request ID")
		return
	}
	orders, err := h.reconciler.Orders(c.Request.Context(), requestID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, orders)
}

// ResultCallback answers the gateway in plain text: OK<InvId> on success.
func (h *Handler) ResultCallback(c *gin.Context) {
	rawBody, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(strings.NewReader(string(rawBody)))
	_ = c.Request.ParseForm()

	outSum := c.PostForm("OutSum")
	invID, err := strconv.ParseInt(c.PostForm("InvId"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	entry := h.log.WithField("inv_id", invID)

	ack, err := h.reconciler.HandleResultCallback(c.Request.Context(), outSum, invID, c.PostForm("SignatureValue"), collectShp(c), string(rawBody))
	if err != nil {
		entry.WithError(err).Error("robokassa result callback failed")
		if errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrAmountMismatch) {
			c.String(http.StatusForbidden, "forbidden")
			return
		}
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	entry.WithField("ack", ack).Info("robokassa result callback handled")
	c.String(http.StatusOK, ack)
}

func collectShp(c *gin.Context) map[string]string {
	res := map[string]string{}
	for k, v := range c.Request.Form {
		if len(k) > 4 && strings.EqualFold(k[:4], "shp_") && len(v) > 0 {
			res[k[4:]] = v[0]
		}
	}
	return res
}
