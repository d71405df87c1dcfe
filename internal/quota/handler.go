package quota

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"transcript-backend/internal/shared/server/middleware"
	"transcript-backend/internal/shared/server/respond"
)

// Handler exposes the usage quota endpoints.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches quota routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/usage", h.getUsage)
	rg.POST("/usage/check", h.checkUsage)
	rg.POST("/usage/commit", h.commitUsage)
}

// RegisterDevRoutes attaches dev-only quota routes.
func (h *Handler) RegisterDevRoutes(rg *gin.RouterGroup) {
	rg.POST("/usage/reset", h.resetUsage)
}

func (h *Handler) getUsage(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	ctx := c.Request.Context()

	info, err := h.Svc.GetUserUsageInfo(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		// First contact: open the account, then read it back.
		if _, err = h.Svc.CheckUsageLimit(ctx, userID); err == nil {
			info, err = h.Svc.GetUserUsageInfo(ctx, userID)
		}
	}
	if err != nil {
		h.fail(c, err, "failed to fetch usage")
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"tier":         info.Tier,
		"currentCount": info.Used,
		"limit":        info.Limit,
		"unlimited":    info.Unlimited,
		"remaining":    info.Remaining,
		"periodStart":  info.PeriodStart,
		"periodEnd":    info.PeriodEnd,
	})
}

func (h *Handler) checkUsage(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	res, err := h.Svc.CheckUsageLimit(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err, "failed to check usage limit")
		return
	}

	status := http.StatusOK
	if !res.Allowed {
		status = http.StatusForbidden
	}
	respond.JSON(c, status, checkBody(res))
}

func (h *Handler) commitUsage(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	res, err := h.Svc.IncrementUsageCount(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			respond.Error(c, http.StatusForbidden, "quota_exceeded", res.Message, checkBody(res))
		case errors.Is(err, ErrTransientConflict):
			respond.Error(c, http.StatusConflict, "conflict", "could not record usage, try again", nil)
		default:
			h.fail(c, err, "failed to record usage")
		}
		return
	}

	respond.JSON(c, http.StatusOK, checkBody(res))
}

func (h *Handler) resetUsage(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	a, err := h.Svc.ResetUsage(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err, "failed to reset usage")
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"tier":         a.Tier,
		"currentCount": a.UsedCount,
		"periodStart":  a.PeriodStart,
		"periodEnd":    a.PeriodEnd(),
	})
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
	case errors.Is(err, ErrServiceUnavailable):
		respond.Error(c, http.StatusServiceUnavailable, "service_unavailable", msg, nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}

func checkBody(res CheckResult) gin.H {
	return gin.H{
		"allowed":            res.Allowed,
		"message":            res.Message,
		"currentCount":       res.Used,
		"limit":              res.Limit,
		"unlimited":          res.Unlimited,
		"remaining":          res.Remaining,
		"subscriptionStatus": res.Tier,
		"periodStart":        res.PeriodStart,
		"periodEnd":          res.PeriodEnd,
	}
}
