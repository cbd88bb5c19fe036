package dragonbot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiHealthCheck          = "/healthz"
	apiMetrics              = "/metrics"
	apiDiscordInteractions  = "/discord/interactions"
	apiPathRegisterCommands = "/discord/register_commands"
	apiPathQuota            = "/quota"
	apiPathSuperstars       = "/superstars"

	xRequestIDHeader = "X-Request-ID"

	// adminUserKey is the gin context key holding the authenticated
	// admin username
	adminUserKey = "admin_user"
)

var structValidator = validator.New()

// API is the admin HTTP server. It exposes health and metrics endpoints
// publicly, and quota usage, command registration and superstar records
// behind basic auth.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger
	handlers            *APIHandlers
}

// APIHandlers holds the admin API's gin handlers
type APIHandlers struct {
	d      *DragonBot
	logger *slog.Logger
}

func newAPI(d *DragonBot, config *APIConfig) (*API, error) {
	logger := slog.New(newLogHandler(config.LogLevel)).With(loggerNameKey, "api")

	r := gin.New()
	limit := rate.Limit(config.LoginRateLimit)
	if config.LoginRateLimit <= 0 {
		limit = rate.Inf
	}
	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(limit, max(config.LoginBurst, 1)),
		logger:              logger,
		handlers:            &APIHandlers{d: d, logger: logger},
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	switch {
	case config.AutocertDomain != "":
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(config.AutocertDomain),
			Cache:      autocert.DirCache(config.AutocertCacheDir),
		}
		tlsCfg := manager.TLSConfig()
		tlsCfg.MinVersion = config.SSL.TLSMinVersion
		httpServer.TLSConfig = tlsCfg
	case config.SSL.Enabled():
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	if d.config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware("api"),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)
	r.GET(apiMetrics, gin.WrapH(promhttp.Handler()))

	if d.config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(d, api.loginRequestLimiter))

	protected.GET(apiPathQuota, api.handlers.getQuota)
	protected.POST(apiPathRegisterCommands, api.handlers.discordRegisterCommands)
	protected.GET(apiPathSuperstars, api.handlers.getSuperstars)

	return api, nil
}

// Serve listens on the configured address and serves until the
// server is shut down, which happens when ctx is canceled.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		} else {
			a.logger.Warn("starting API server without TLS")
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "API listening", "addr", a.listener.Addr().String())

	stop := context.AfterFunc(
		ctx, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
			defer cancel()
			if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("error shutting down API server", tint.Err(err))
			}
		},
	)
	defer stop()

	return a.httpServer.Serve(a.listener)
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	Uptime                  string `json:"uptime"`
}

type httpError struct {
	Error string `json:"error"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	var uptime time.Duration
	if !h.d.startedAt.IsZero() {
		uptime = time.Since(h.d.startedAt).Truncate(time.Second)
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			DiscordGatewayConnected: h.d.discord.connected.Load(),
			Uptime:                  uptime.String(),
		},
	)
}

func (h *APIHandlers) getQuota(c *gin.Context) {
	logger := ginContextLogger(c)
	usage, err := h.d.QuotaUsage(c)
	if err != nil {
		logger.ErrorContext(c, "error getting quota usage", tint.Err(err))
		c.AbortWithStatusJSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting quota usage"},
		)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.InfoContext(c, "registering commands")

	created, err := h.d.RegisterCommands()
	if err != nil {
		logger.ErrorContext(c, "error registering commands", tint.Err(err))
		c.AbortWithStatusJSON(
			http.StatusInternalServerError,
			httpError{Error: "error registering commands"},
		)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *APIHandlers) getSuperstars(c *gin.Context) {
	logger := ginContextLogger(c)
	superstars, err := h.d.activeSuperstars(c)
	if err != nil {
		logger.ErrorContext(c, "error getting superstars", tint.Err(err))
		c.AbortWithStatusJSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting superstars"},
		)
		return
	}
	c.JSON(http.StatusOK, superstars)
}

// authMiddleware checks HTTP basic auth credentials against the stored
// admin credential. Each failed attempt takes a token from limiter, and
// while it's empty every attempt is rejected with 429.
func authMiddleware(d *DragonBot, limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)

		if limiter.Limit() != rate.Inf && limiter.Tokens() < 1 {
			logger.WarnContext(c, "auth rate limit exceeded")
			c.AbortWithStatusJSON(
				http.StatusTooManyRequests,
				httpError{Error: "too many requests"},
			)
			return
		}

		unauthorized := func() {
			_ = limiter.Allow()
			c.Header("WWW-Authenticate", `Basic realm="dragonbot"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		}

		username, password, ok := c.Request.BasicAuth()
		if !ok || username == "" {
			unauthorized()
			return
		}

		ctx, cancel := context.WithTimeout(c, dbOperationTimeout)
		defer cancel()

		cred, err := getAdminCredential(ctx, d.db)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			logger.WarnContext(c, "admin credentials not set")
			unauthorized()
			return
		case err != nil:
			logger.ErrorContext(c, "error getting admin credentials", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusInternalServerError,
				httpError{Error: "internal error"},
			)
			return
		}

		if username != cred.Username {
			logger.WarnContext(c, "invalid username", "username", username)
			unauthorized()
			return
		}
		valid, err := VerifyPassword(cred.PasswordHash, password)
		if err != nil {
			logger.ErrorContext(c, "error verifying password", tint.Err(err))
		}
		if !valid {
			logger.WarnContext(c, "invalid password", "username", username)
			unauthorized()
			return
		}

		c.Set(adminUserKey, username)
		c.Next()
	}
}

// requestIDMiddleware assigns a random UUID to each request, setting it
// in the gin context and the response header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}

	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's finished, with its
// duration and response status
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

//nolint:gochecknoinits // validator tag
func init() {
	structValidator.SetTagName("binding")
}
