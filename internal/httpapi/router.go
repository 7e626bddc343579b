// Package httpapi exposes the economy to the web client over JSON.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"countryballs/internal/metrics"
	"countryballs/internal/model"
	"countryballs/internal/service"
)

// BalanceUpdater applies tap reports.
type BalanceUpdater interface {
	UpdateBalance(ctx context.Context, telegramID, reportedTaps int64) (*service.BalanceUpdate, error)
}

// Accounts reads and edits user profiles.
type Accounts interface {
	GetProfile(ctx context.Context, telegramID int64) (*service.UserProfile, error)
	ChangeLocation(ctx context.Context, telegramID int64, countryID, regionID *int64) (*model.User, error)
}

// Referrals reports on a user's invitees.
type Referrals interface {
	GetReferralStats(ctx context.Context, telegramID int64) (model.ReferralStats, error)
	ReferralLink(telegramID int64) string
}

// Ratings serves the leaderboards.
type Ratings interface {
	ListRating(ctx context.Context, kind model.RatingKind, offset, limit int) ([]model.RatingEntry, error)
	ListCountryRatings(ctx context.Context, offset, limit int) ([]model.CountryRating, error)
}

// Payments lists settled payments.
type Payments interface {
	ListPayments(ctx context.Context, telegramID int64, offset, limit int) ([]model.PaymentRecord, error)
}

// Refunds records refunds issued outside the bot.
type Refunds interface {
	RecordRefund(ctx context.Context, refund model.RefundRecord) (*model.RefundRecord, error)
}

// JobRunner triggers scheduled jobs on demand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
	Jobs() []string
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds everything the API calls into. Refunds, Jobs and Health may be nil.
type Deps struct {
	Balance    BalanceUpdater
	Accounts   Accounts
	Referrals  Referrals
	Ratings    Ratings
	Payments   Payments
	Refunds    Refunds
	Jobs       JobRunner
	Health     HealthChecker
	AdminToken string
}

// Handler serves the API routes.
type Handler struct {
	deps Deps
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	h := &Handler{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/user/balance", h.UpdateBalance)
		api.GET("/user/me", h.GetProfile)
		api.PATCH("/user/location", h.ChangeLocation)
		api.GET("/user/referrals", h.GetReferrals)
		api.GET("/rating", h.ListRating)
		api.GET("/rating/countries", h.ListCountryRatings)
		api.GET("/payments", h.ListPayments)
	}

	if deps.AdminToken != "" {
		admin := api.Group("/admin", adminAuth(deps.AdminToken))
		if deps.Jobs != nil {
			admin.GET("/jobs", h.ListJobs)
			admin.POST("/jobs/:name", h.RunJob)
		}
		if deps.Refunds != nil {
			admin.POST("/refunds", h.RecordRefund)
		}
	}

	return r
}

// requestLogger logs each request and counts it by route template.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		evt := log.Debug()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	}
}

func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
