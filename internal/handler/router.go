package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const apiVersion = "1.0.0"

// Pinger reports database reachability for /health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterConfig holds HTTP settings.
type RouterConfig struct {
	CORSOrigin      string
	RateLimitWindow time.Duration
	RateLimitMax    int
	Redis           *redis.Client
}

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Auth   AuthFlows
	Tokens AccessVerifier
	DB     Pinger
	Log    *zap.Logger
}

// NewRouter builds the echo instance with the full middleware chain and
// every route.
func NewRouter(cfg RouterConfig, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewAppValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	metrics := NewMetrics()

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(RequestLogger(deps.Log))
	e.Use(metrics.Middleware())
	e.Use(middleware.Recover())
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		HSTSPreloadEnabled:    true,
		ContentSecurityPolicy: "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self'; img-src 'self' data: https:",
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowCredentials: true,
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodPatch, http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestedWith,
		},
	}))
	e.Use(middleware.BodyLimit("10M"))
	e.Use(Sanitize())
	e.Use(middleware.Gzip())

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"message": "Backend KedaiReka API",
			"version": apiVersion,
			"endpoints": map[string]string{
				"health": "/health",
				"api":    "/api/v1",
			},
		})
	})
	e.GET("/health", health(deps.DB))
	e.GET("/metrics", metrics.Handler())

	limiter := NewRateLimiter(cfg.Redis, deps.Log)
	apiLimit := Limit{Name: "api", Max: cfg.RateLimitMax, Window: cfg.RateLimitWindow}
	if apiLimit.Max <= 0 {
		apiLimit.Max = 100
	}
	if apiLimit.Window <= 0 {
		apiLimit.Window = 15 * time.Minute
	}

	api := e.Group("/api/v1", limiter.Middleware(apiLimit))
	api.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"message": "Backend KedaiReka API v1",
			"version": apiVersion,
		})
	})

	h := NewAuthHandler(deps.Auth)
	requireAuth := JWTAuth(deps.Tokens)

	auth := api.Group("/auth")
	auth.POST("/register", h.Register, limiter.Middleware(RegisterLimit))
	auth.POST("/login", h.Login, limiter.Middleware(LoginLimit))
	auth.POST("/google", h.Google, limiter.Middleware(GoogleLimit))
	auth.POST("/refresh-token", h.Refresh)
	auth.GET("/email-config", h.EmailConfig)

	auth.POST("/logout", h.Logout, requireAuth)
	auth.GET("/me", h.Me, requireAuth)
	auth.POST("/send-verification", h.SendVerification, requireAuth, limiter.Middleware(AuthLimit))
	auth.GET("/check-verification", h.CheckVerification, requireAuth)
	auth.POST("/change-password", h.ChangePassword, requireAuth, limiter.Middleware(AuthLimit))

	return e
}

func health(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := map[string]any{
			"success":   true,
			"message":   "Server is healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				body["success"] = false
				body["message"] = "Database unreachable"
				return c.JSON(http.StatusServiceUnavailable, body)
			}
		}
		return c.JSON(http.StatusOK, body)
	}
}
