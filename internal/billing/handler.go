// Package billing exposes the tier-sync surface the external billing
// collaborator writes through. Subscription lifecycle events (upgrade,
// downgrade, cancellation) land here as plain tier updates; webhook signature
// verification happens upstream.
package billing

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"transcript-backend/internal/quota"
	"transcript-backend/internal/shared/server/respond"
)

const secretHeader = "X-Billing-Secret"

// Handler receives subscription tier updates.
type Handler struct {
	Quota  *quota.Service
	Secret string
}

// NewHandler constructs a Handler.
func NewHandler(quotaSvc *quota.Service, secret string) *Handler {
	return &Handler{Quota: quotaSvc, Secret: secret}
}

// RegisterRoutes attaches billing-sync routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.PUT("/billing/tier", h.updateTier)
}

type tierUpdateRequest struct {
	UserID string `json:"userId"`
	Tier   string `json:"tier"`
}

func (h *Handler) updateTier(c *gin.Context) {
	if !h.authorized(c) {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "invalid billing secret", nil)
		return
	}

	var req tierUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "userId is required", nil)
		return
	}

	tier := quota.ParseTier(req.Tier)
	a, err := h.Quota.SetTier(c.Request.Context(), req.UserID, tier)
	if err != nil {
		if errors.Is(err, quota.ErrServiceUnavailable) {
			respond.Error(c, http.StatusServiceUnavailable, "service_unavailable", "failed to update tier", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update tier", nil)
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"userId":      a.UserID,
		"tier":        a.Tier,
		"periodStart": a.PeriodStart,
		"periodEnd":   a.PeriodEnd(),
	})
}

func (h *Handler) authorized(c *gin.Context) bool {
	if h.Secret == "" {
		return false
	}
	provided := strings.TrimSpace(c.GetHeader(secretHeader))
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.Secret)) == 1
}
