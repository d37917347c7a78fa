package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"taskmail/internal/audit"
	"taskmail/internal/dispatch"
	"taskmail/internal/ratelimit"
	"taskmail/internal/server/api/middleware"
	"taskmail/internal/server/api/response"
	"taskmail/internal/template"
	"taskmail/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// API represents the v1 API
type API struct {
	service *dispatch.Service
	client  *dispatch.Client
	store   audit.Store
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewAPI creates new API
func NewAPI(svc *dispatch.Service, client *dispatch.Client, store audit.Store,
	limiter *ratelimit.Limiter, logger *zap.Logger) *API {
	return &API{
		service: svc,
		client:  client,
		store:   store,
		limiter: limiter,
		logger:  logger,
	}
}

// RegisterRoutes registers API routes
func (api *API) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("", api.sendNotification)
		notifications.POST("/:kind", api.sendTypedNotification)
		notifications.GET("", api.listNotifications)
		notifications.GET("/quota", api.getQuota)
	}

	r.GET("/templates", api.listTemplates)
}

// sendNotification handles a generic dispatch request
func (api *API) sendNotification(c *gin.Context) {
	resp := response.New(c, api.logger)

	var req types.NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(errors.New("invalid notification payload"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	receipt, err := api.service.Dispatch(ctx, c.GetString(middleware.IdentityKey), &req, time.Now().UTC())
	if err != nil {
		api.writeDispatchError(c, err)
		return
	}

	resp.Created(receipt)
}

// typedRequest is the body for the per-kind endpoints.
type typedRequest struct {
	To   string         `json:"to" binding:"required"`
	Data map[string]any `json:"data"`
}

// sendTypedNotification handles the per-kind facade endpoints
func (api *API) sendTypedNotification(c *gin.Context) {
	resp := response.New(c, api.logger)

	id, ok := dispatch.KindFor(c.Param("kind"))
	if !ok {
		resp.NotFound(errors.New("unknown notification kind"))
		return
	}

	var req typedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(errors.New("invalid notification payload"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	receipt, err := api.client.Send(ctx, c.GetString(middleware.IdentityKey), req.To, id, req.Data)
	if err != nil {
		api.writeDispatchError(c, err)
		return
	}

	resp.Created(receipt)
}

// listNotifications returns recent audit records for the caller
func (api *API) listNotifications(c *gin.Context) {
	resp := response.New(c, api.logger)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			resp.BadRequest(errors.New("limit must be between 1 and 500"))
			return
		}
		limit = parsed
	}

	records, err := api.store.List(c.Request.Context(), c.GetString(middleware.IdentityKey), limit)
	if err != nil {
		api.logger.Error("Failed to list audit records", zap.Error(err))
		resp.InternalError(errors.New("failed to list notifications"))
		return
	}

	resp.Success(records)
}

// getQuota returns remaining quota for the caller. Informational only.
func (api *API) getQuota(c *gin.Context) {
	resp := response.New(c, api.logger)

	quota, err := api.limiter.Quota(c.Request.Context(), c.GetString(middleware.IdentityKey), time.Now().UTC())
	if err != nil {
		api.logger.Error("Failed to compute quota", zap.Error(err))
		resp.InternalError(errors.New("failed to compute quota"))
		return
	}

	resp.Success(quota)
}

// listTemplates returns the registered template identifiers
func (api *API) listTemplates(c *gin.Context) {
	response.New(c, api.logger).Success(template.IDs())
}

// writeDispatchError maps the dispatch error taxonomy onto HTTP statuses
func (api *API) writeDispatchError(c *gin.Context, err error) {
	resp := response.New(c, api.logger)

	var (
		validationErr *types.ValidationError
		rejectedErr   *types.RejectedError
		deliveryErr   *types.DeliveryError
	)
	switch {
	case errors.As(err, &validationErr):
		resp.ValidationError(validationErr)
	case errors.As(err, &rejectedErr):
		if rejectedErr.Window == types.WindowHourly {
			c.Header("Retry-After", strconv.Itoa(int(time.Hour.Seconds())))
		} else {
			c.Header("Retry-After", strconv.Itoa(int((24 * time.Hour).Seconds())))
		}
		resp.TooManyRequests(rejectedErr)
	case errors.As(err, &deliveryErr):
		resp.BadGateway(deliveryErr)
	default:
		api.logger.Error("Dispatch failed", zap.Error(err))
		resp.Error(http.StatusInternalServerError, errors.New("dispatch failed"))
	}
}
