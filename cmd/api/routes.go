package main

import (
	"database/sql"
	"net/http"
	"time"

	"callops/internal/audit"
	"callops/internal/auth"
	"callops/internal/calls"
	"callops/internal/config"
	"callops/internal/dialing"
	"callops/internal/followup"
	"callops/internal/httpapi"
	"callops/internal/routing"
	"callops/internal/telephony"
	"callops/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type deps struct {
	// pool runs follow-up advisor calls; nil when no advisor is configured.
	pool     *ants.Pool
	db       *sql.DB
	rdb      *redis.Client
	auth     *auth.Manager
	api      httpapi.Handlers
	webhooks telephony.WebhookHandler
}

// buildDeps wires stores and services. No business logic here.
func buildDeps(cfg config.Config, db *sql.DB, rdb *redis.Client) (deps, error) {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return deps{}, err
	}

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	sessions := calls.NewPostgresStore(db)
	callSvc := calls.NewService(sessions, calls.AuditAdapter{Audit: auditSvc})

	router := routing.NewEngine(routing.NewPostgresDirectory(db), nil)
	provider := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.APIBaseURL,
	}, nil)

	var limiter dialing.Limiter
	if rdb != nil {
		limiter = utils.NewCapLimiter(rdb, "callops:dialcap", cfg.Dial.WorkspaceConcurrency, cfg.Dial.CapTTL)
	}

	opts := []followup.Option{
		followup.WithPolicy(followup.Policy{StaleQuoteDays: cfg.Followup.StaleQuoteDays}),
		followup.WithLookback(time.Duration(cfg.Followup.LookbackDays) * 24 * time.Hour),
		followup.WithDefaultLimit(cfg.Followup.DefaultLimit),
	}
	var pool *ants.Pool
	if cfg.Followup.AdvisorURL != "" {
		pool, err = ants.NewPool(cfg.Followup.AdvisorConcurrency, ants.WithExpiryDuration(time.Minute))
		if err != nil {
			return deps{}, err
		}
		opts = append(opts,
			followup.WithAdvisor(followup.NewHTTPAdvisor(cfg.Followup.AdvisorURL, cfg.Followup.AdvisorTimeout)),
			followup.WithAdvisorPool(pool),
		)
	}
	builder := followup.NewBuilder(sessions, followup.NewPostgresRepo(db), opts...)

	return deps{
		pool: pool,
		db:   db,
		rdb:  rdb,
		auth: authManager,
		api: httpapi.Handlers{
			Calls:     callSvc,
			Dialing:   dialing.NewService(callSvc, provider, limiter, router, cfg.Twilio.PublicBaseURL),
			Followups: builder,
		},
		webhooks: telephony.WebhookHandler{Calls: callSvc, Router: router},
	}, nil
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, d deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "postgres unavailable"})
			return
		}
		if d.rdb != nil {
			if err := d.rdb.Ping(c.Request.Context()).Err(); err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Provider webhooks (public, signed).
	hooks := r.Group("")
	hooks.Use(telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL))
	{
		hooks.POST(telephony.VoiceWebhookPath, d.webhooks.HandleVoice)
		hooks.POST(telephony.StatusWebhookPath, d.webhooks.HandleStatus)
	}

	// internal API
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	d.api.Register(v1)
}
