package server

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	googleauth "transcript-backend/internal/auth"
	"transcript-backend/internal/billing"
	"transcript-backend/internal/quota"
	"transcript-backend/internal/services/health"
	"transcript-backend/internal/shared/config"
	"transcript-backend/internal/shared/metrics"
	"transcript-backend/internal/shared/server/middleware"
	"transcript-backend/internal/shared/server/respond"
	"transcript-backend/internal/shared/storage/db"
	"transcript-backend/internal/users"
)

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(cfg config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
		middleware.Auth(cfg.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: "DEFAULT",
			GroupFor: func(c *gin.Context) string {
				if c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/usage" {
					return "POLLING"
				}
				return "DEFAULT"
			},
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT": {Rate: 5, Burst: 20},
				"POLLING": {Rate: 20, Burst: 60},
			},
		}),
	)

	// Dependencies
	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		dbConn, err := db.Connect(context.Background(), cfg.DatabaseURL, opts)
		if err != nil {
			log.Printf("failed to connect database, falling back to memory: %v", err)
		} else {
			if err := db.RunMigrations(context.Background(), dbConn); err != nil {
				log.Printf("failed to run migrations, falling back to memory: %v", err)
				dbConn = nil
			}
		}
		sqlDB = dbConn
	}

	policies := quota.NewPolicyTable()
	if cfg.QuotaFreeLimit > 0 {
		policies.SetLimit(quota.TierFree, cfg.QuotaFreeLimit)
	}
	if cfg.QuotaProLimit > 0 {
		policies.SetLimit(quota.TierPro, cfg.QuotaProLimit)
	}

	var ledger quota.LedgerStore
	if sqlDB != nil {
		ledger = quota.NewPGStore(sqlDB, policies)
	} else {
		ledger = quota.NewMemoryStore(policies)
	}
	quotaSvc := quota.NewService(ledger, policies)
	quotaSvc.StoreTimeout = cfg.QuotaStoreTimeout
	quotaSvc.MaxRetries = cfg.QuotaMaxRetries
	quotaHandler := quota.NewHandler(quotaSvc)

	var usersRepo users.Repo
	if sqlDB != nil {
		usersRepo = &users.PGRepo{DB: sqlDB}
	} else {
		usersRepo = users.NewMemoryRepo()
	}
	usersSvc := users.NewService(usersRepo)
	usersHandler := users.NewHandler(usersSvc)

	googleAuthSvc := googleauth.NewGoogleService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, cfg.UIRedirectURL, usersSvc)
	billingHandler := billing.NewHandler(quotaSvc, cfg.BillingSyncSecret)
	healthSvc := health.NewService(sqlDB)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, healthSvc.Status())
	})
	api.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		payload := healthSvc.Ready(c.Request.Context())
		if !payload["ok"] {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, payload)
	})
	api.GET("/metrics", metrics.Handler())
	googleAuthSvc.RegisterRoutes(api)
	usersHandler.RegisterRoutes(api)
	quotaHandler.RegisterRoutes(api)
	billingHandler.RegisterRoutes(api)
	if cfg.Env == "dev" {
		dev := api.Group("/dev")
		quotaHandler.RegisterDevRoutes(dev)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
