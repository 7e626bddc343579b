package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/pkg/joblock"
	"countryballs/internal/pkg/lock"
)

type balanceRequest struct {
	TelegramID      int64  `json:"telegram_id" binding:"required"`
	CurrentTapCount *int64 `json:"current_tap_count" binding:"required"`
}

type userQuery struct {
	TelegramID int64 `form:"tg_id" binding:"required"`
}

type locationRequest struct {
	TelegramID int64  `json:"telegram_id" binding:"required"`
	CountryID  *int64 `json:"country_id"`
	RegionID   *int64 `json:"region_id"`
}

type refundRequest struct {
	ChargeID    string `json:"charge_id" binding:"required"`
	TelegramID  int64  `json:"telegram_id" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	TotalAmount int64  `json:"total_amount"`
}

type pageQuery struct {
	Offset int `form:"offset"`
	Limit  int `form:"limit"`
}

type ratingQuery struct {
	pageQuery
	Type string `form:"type"`
}

type paymentsQuery struct {
	userQuery
	pageQuery
}

// errorStatus maps the error taxonomy onto HTTP.
func errorStatus(err error) int {
	if errors.Is(err, joblock.ErrNotAcquired) {
		return http.StatusConflict
	}
	if errors.Is(err, lock.ErrLockTimeout) {
		return http.StatusServiceUnavailable
	}
	switch economy.KindOf(err) {
	case economy.KindNotFound:
		return http.StatusNotFound
	case economy.KindConflict, economy.KindExhausted:
		return http.StatusConflict
	case economy.KindInvalidInput:
		return http.StatusBadRequest
	case economy.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("route", c.FullPath()).Msg("Request failed")
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "kind": economy.KindOf(err).String()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": economy.KindInvalidInput.String()})
}

// UpdateBalance handles POST /api/v1/user/balance.
// Rejected tap reports still answer 200 with the outcome.
func (h *Handler) UpdateBalance(c *gin.Context) {
	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.deps.Balance.UpdateBalance(c.Request.Context(), req.TelegramID, *req.CurrentTapCount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetProfile handles GET /api/v1/user/me.
func (h *Handler) GetProfile(c *gin.Context) {
	var q userQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	profile, err := h.deps.Accounts.GetProfile(c.Request.Context(), q.TelegramID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ChangeLocation handles PATCH /api/v1/user/location.
func (h *Handler) ChangeLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.deps.Accounts.ChangeLocation(c.Request.Context(), req.TelegramID, req.CountryID, req.RegionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetReferrals handles GET /api/v1/user/referrals.
func (h *Handler) GetReferrals(c *gin.Context) {
	var q userQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	stats, err := h.deps.Referrals.GetReferralStats(c.Request.Context(), q.TelegramID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_referrals": stats.TotalReferrals,
		"level_stats":     stats.LevelStats,
		"link":            h.deps.Referrals.ReferralLink(q.TelegramID),
	})
}

// ListRating handles GET /api/v1/rating.
func (h *Handler) ListRating(c *gin.Context) {
	q := ratingQuery{pageQuery: pageQuery{Limit: 100}, Type: string(model.RatingGDP)}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	entries, err := h.deps.Ratings.ListRating(c.Request.Context(), model.RatingKind(q.Type), q.Offset, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": q.Type, "rating": entries})
}

// ListCountryRatings handles GET /api/v1/rating/countries.
func (h *Handler) ListCountryRatings(c *gin.Context) {
	q := pageQuery{Limit: 100}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	rows, err := h.deps.Ratings.ListCountryRatings(c.Request.Context(), q.Offset, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": rows})
}

// ListPayments handles GET /api/v1/payments.
func (h *Handler) ListPayments(c *gin.Context) {
	q := paymentsQuery{pageQuery: pageQuery{Limit: 100}}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	records, err := h.deps.Payments.ListPayments(c.Request.Context(), q.TelegramID, q.Offset, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": records})
}

// RecordRefund handles POST /api/v1/admin/refunds.
func (h *Handler) RecordRefund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rec, err := h.deps.Refunds.RecordRefund(c.Request.Context(), model.RefundRecord{
		ID:          req.ChargeID,
		TelegramID:  req.TelegramID,
		Currency:    req.Currency,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ListJobs handles GET /api/v1/admin/jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.deps.Jobs.Jobs()})
}

// RunJob handles POST /api/v1/admin/jobs/:name.
func (h *Handler) RunJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.deps.Jobs.RunNow(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": name, "status": "ok"})
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	if h.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.deps.Health.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "healthy"})
}
