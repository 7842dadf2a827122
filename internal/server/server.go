package server

import (
	"context"
	"encoding/gob"
	"fmt"
	"html/template"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"facilitator-backend/internal/common"
	"facilitator-backend/internal/config"
	"facilitator-backend/internal/email"
	"facilitator-backend/internal/handlers"
	"facilitator-backend/internal/metrics"
	"facilitator-backend/internal/models"
	"facilitator-backend/internal/notifications"
	"facilitator-backend/internal/store"
	"facilitator-backend/internal/synthesis"
	"facilitator-backend/internal/wizard"

	"github.com/go-playground/validator"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/github"
	"github.com/markbates/goth/providers/google"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	resend "github.com/resend/resend-go/v2"
	"github.com/wader/gormstore/v2"
)

// CustomValidator Source: https://echo.labstack.com/docs/request#validate-data
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

type Template struct {
	templates *template.Template
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

type SentryLogger struct {
	echo.Logger
}

func (l *SentryLogger) Error(i ...interface{}) {
	if err, ok := i[0].(error); ok {
		handlers.CaptureError(err)
	} else {
		handlers.CaptureError(fmt.Errorf("%v", i...))
	}
	l.Logger.Error(i...)
}

type Server struct {
	common.ServerState
}

func New(cfg *config.Config) *Server {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}
	e.Logger = &SentryLogger{Logger: e.Logger}
	e.Logger.SetLevel(log.DEBUG)

	return &Server{
		common.ServerState{
			Echo:   e,
			Config: cfg,
		},
	}
}

func (s *Server) Initialize() error {
	// Initialize database
	s.setupDatabase()

	s.setupRedis()

	// Repositories, review sessions and outbound clients
	s.setupStorage()

	// Initialize JWT
	s.JwtIssuer = handlers.NewJwtAuth(s.Config.Auth.SessionSecret)

	// Initialize Resend email client
	s.setupEmailClient()

	s.setupIntegrations()

	// Initialize session store
	s.setupSessionStore()

	// Setup templates
	s.setupTemplates()

	// Setup routes
	s.setupRoutes()

	// Run Migrations
	s.runMigrations()

	// Setup goth providers
	s.setupGothProviders()

	s.setupMetrics()

	// Setup middleware -
	// Keep last to avoid Recover middleware and panic if something goes wrong on init
	s.setupMiddleware()

	return nil
}

func (s *Server) setupDatabase() {
	db, err := store.OpenDatabase(s.Config.Database.DSN)
	if err != nil {
		s.Echo.Logger.Fatal(err)
	}
	s.DB = db
}

func (s *Server) setupRedis() {
	url := s.Config.Database.RedisURI

	// Make Redis optional - if URI is empty, skip Redis setup
	if url == "" {
		s.Echo.Logger.Warn("REDIS_URI not configured, review sessions and seen counts stay in process and SQL")
		s.Redis = nil
		return
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		s.Echo.Logger.Warnf("Failed to parse Redis URL: %v, Redis features will be disabled", err)
		s.Redis = nil
		return
	}

	s.Redis = redis.NewClient(opts)

	// Validate proper connection, but don't panic on failure
	ctx := context.Background()
	result := s.Redis.Ping(ctx)
	if result.Err() != nil {
		s.Echo.Logger.Warnf("Redis connection failed: %v, Redis features will be disabled", result.Err())
		s.Redis = nil
		return
	}
}

func (s *Server) setupStorage() {
	switch s.Config.Storage.Backend {
	case config.StorageREST:
		s.Repos = store.NewRESTRepositories(s.Config.Storage.RestURL, s.Config.Storage.RestKey,
			&http.Client{Timeout: 15 * time.Second}, s.Echo.Logger)
	default:
		s.Repos = store.NewSQLRepositories(s.DB, s.Echo.Logger)
	}

	if s.Config.Crypto.SettingsKey != "" {
		s.Repos.Settings = store.NewEncryptedSettings(s.Repos.Settings, s.Config.Crypto.SettingsKey)
	} else {
		s.Echo.Logger.Warn("SETTINGS_ENCRYPTION_KEY not configured, API keys are stored in plain text")
	}

	if s.Redis != nil {
		s.Repos.SeenCounts = store.NewRedisSeenCounts(s.Redis)
		s.Sessions = wizard.NewRedisSessionStore(s.Redis)
	} else {
		s.Sessions = wizard.NewMemorySessionStore()
	}
}

func (s *Server) setupIntegrations() {
	s.Notifier = notifications.NewSlackNotifier()
	s.Summarizer = synthesis.NewAnthropicClient(s.Config.Synthesis.BaseURL, s.Config.Synthesis.Model, s.Config.Synthesis.MaxTokens)
	s.Synthesis = synthesis.NewService(s.Summarizer, s.Repos.Syntheses, s.Echo.Logger)
}

func (s *Server) setupSessionStore() {
	store := gormstore.New(s.DB, []byte(s.Config.Auth.SessionSecret))
	store.SessionOpts.MaxAge = 60 * 60 * 24 * 30 // 30 days
	store.SessionOpts.SameSite = http.SameSiteLaxMode
	store.SessionOpts.HttpOnly = true

	quit := make(chan struct{})
	go store.PeriodicCleanup(1*time.Hour, quit)

	// To solve securecookie: error - caused by: gob: type not registered for interface
	gob.Register(map[string]interface{}{})

	s.Store = store
}

func (s *Server) setupTemplates() {
	// Try to load templates, but don't fail if they don't exist (e.g., in tests)
	tmpl, err := template.ParseGlob("./web/*.html")
	if err != nil {
		s.Echo.Logger.Warnf("Failed to load templates: %v, template rendering will be disabled", err)
		return
	}
	s.Echo.Renderer = &Template{templates: tmpl}
}

func (s *Server) runMigrations() {
	if err := models.Migrate(s.DB); err != nil {
		s.Echo.Logger.Fatal(err)
	}
	// The REST backend has no migrations table, its legacy rows are folded here
	if _, err := s.Repos.UpgradeLegacy(context.Background()); err != nil {
		s.Echo.Logger.Fatal(err)
	}
}

func (s *Server) setupMiddleware() {
	s.Echo.Use(middleware.CORS())
	s.Echo.Use(session.Middleware(s.Store))
	s.Echo.Use(middleware.Recover())
	// Try to add prometheus middleware, but don't panic if already registered (e.g., in tests)
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && err.Error() == "duplicate metrics collector registration attempted" {
				s.Echo.Logger.Warn("Prometheus middleware already registered, skipping")
			} else {
				panic(r)
			}
		}
	}()
	s.Echo.Use(echoprometheus.NewMiddleware("facilitator_backend"))
}

func (s *Server) setupMetrics() {
	if err := metrics.Register(); err != nil {
		s.Echo.Logger.Warnf("Failed to register domain metrics: %v", err)
	}

	// Only register Redis metrics if Redis is available
	if s.Redis == nil {
		return
	}

	err := prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Subsystem: "redis",
			Name:      "connected_clients",
			Help:      "The number of clients currently connected to Redis",
		},
		func() float64 {
			ctx := context.Background()
			connectedClientsRaw := s.Redis.InfoMap(ctx).Item("Clients", "connected_clients")

			connectedClients, err := strconv.ParseFloat(connectedClientsRaw, 64)
			if err != nil {
				return math.NaN()
			}

			return connectedClients
		},
	))
	if err != nil {
		s.Echo.Logger.Warnf("Redis gauge not registered: %v", err)
	}
}

func (s *Server) setupGothProviders() {
	gothic.Store = s.Store

	goth.UseProviders(
		google.New(s.Config.Auth.GoogleKey, s.Config.Auth.GoogleSecret, s.Config.Auth.GoogleRedirect, "email", "profile", "openid"),
		github.New(s.Config.Auth.GithubKey, s.Config.Auth.GithubSecret, s.Config.Auth.GithubRedirect, "user:email", "read:user"),
	)
}

func (s *Server) setupEmailClient() {
	apiKey := s.Config.Resend.APIKey
	if apiKey == "" {
		s.Echo.Logger.Warn("RESEND_API_KEY not configured, email notifications will be disabled")
		return
	}

	resendClient := resend.NewClient(apiKey)
	s.EmailClient = email.NewResendEmailClient(resendClient,
		s.Config.Resend.DefaultSender,
		s.Echo.Logger)
}

func (s *Server) setupRoutes() {
	handlers.SetupSentry(s.Echo, s.Config)

	// Serve static files
	s.Echo.Static("/static", "web/static")

	auth := handlers.NewAuthHandler(s.ServerState, &handlers.RealGothicProvider{})
	teams := handlers.NewTeamHandler(s.ServerState)
	folders := handlers.NewFolderHandler(s.ServerState)
	settings := handlers.NewSettingsHandler(s.ServerState)
	requests := handlers.NewRequestHandler(s.ServerState)
	review := handlers.NewReviewHandler(s.ServerState)

	// API routes group
	api := s.Echo.Group("/api")

	// Public API endpoints
	api.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	api.GET("/metrics", echoprometheus.NewHandler())
	api.GET("/invitation-details/:code", auth.GetInvitationDetails)

	// Reviewers open share links without an account
	api.GET("/review/:id", review.GetRequest)
	api.POST("/review/:id/session", review.StartSession)
	api.GET("/review/:id/session/:sid", review.GetSession)
	api.POST("/review/:id/session/:sid", review.Act)
	api.POST("/review/:id/session/:sid/submit", review.Submit)

	// Authentication endpoints
	api.GET("/auth/social/:provider", auth.SocialLogin)
	api.GET("/auth/social/:provider/callback", auth.SocialLoginCallback)
	api.POST("/sign-in", auth.SignIn)

	// Protected API routes group
	protectedAPI := api.Group("/auth", s.JwtIssuer.Middleware())

	protectedAPI.GET("/user", auth.User)
	protectedAPI.PUT("/update-user-name", auth.UpdateName)

	protectedAPI.GET("/teams", teams.ListTeams)
	protectedAPI.POST("/teams", teams.CreateTeam)
	protectedAPI.GET("/teams/public", teams.ListPublic)
	protectedAPI.POST("/teams/public/:id/join", teams.JoinPublic)
	protectedAPI.POST("/teams/join/:code", teams.JoinByCode)
	protectedAPI.POST("/teams/active", teams.SwitchActiveTeam)
	protectedAPI.GET("/teams/:id", teams.GetTeam)
	protectedAPI.PUT("/teams/:id/name", teams.RenameTeam)
	protectedAPI.POST("/teams/:id/visibility", teams.ToggleVisibility)
	protectedAPI.POST("/teams/:id/invite-code", teams.RotateInviteCode)
	protectedAPI.DELETE("/teams/:id/members/:userId", teams.RemoveMember)
	protectedAPI.POST("/teams/:id/invites", teams.SendInvites)

	protectedAPI.GET("/folders", folders.ListFolders)
	protectedAPI.POST("/folders", folders.CreateFolder)
	protectedAPI.DELETE("/folders/:id", folders.DeleteFolder)

	protectedAPI.GET("/settings", settings.GetSettings)
	protectedAPI.PUT("/settings", settings.UpdateSettings)

	protectedAPI.GET("/requests", requests.ListRequests)
	protectedAPI.POST("/requests", requests.CreateRequest)
	protectedAPI.GET("/requests/export.csv", requests.ExportAllCSV)
	protectedAPI.GET("/requests/:id", requests.GetRequest)
	protectedAPI.PUT("/requests/:id", requests.UpdateRequest)
	protectedAPI.DELETE("/requests/:id", requests.DeleteRequest)
	protectedAPI.POST("/requests/:id/duplicate", requests.DuplicateRequest)
	protectedAPI.POST("/requests/:id/archive", requests.ToggleArchive)
	protectedAPI.POST("/requests/:id/complete", requests.CompleteRequest)
	protectedAPI.POST("/requests/:id/tags", requests.AddTag)
	protectedAPI.DELETE("/requests/:id/tags/:tag", requests.RemoveTag)
	protectedAPI.GET("/requests/:id/share", requests.GetShareMessage)
	protectedAPI.POST("/requests/:id/share/slack", requests.SendToSlack)
	protectedAPI.POST("/requests/:id/share/email", requests.EmailReviewers)

	protectedAPI.GET("/requests/:id/results", requests.GetResults)
	protectedAPI.GET("/requests/:id/results.csv", requests.ExportCSV)
	protectedAPI.GET("/requests/:id/results/live", requests.LiveResults)
	protectedAPI.GET("/requests/:id/synthesis", requests.GetSynthesis)
	protectedAPI.POST("/requests/:id/synthesis", requests.RegenerateSynthesis)

	// Debug endpoints - only enabled when ENABLE_DEBUG_ENDPOINTS=true
	if s.Config.Server.Debug {
		api.GET("/debug", func(c echo.Context) error {
			return c.Render(http.StatusOK, "debug.html", nil)
		})
		api.GET("/jwt-debug", func(c echo.Context) error {
			email := c.QueryParam("email")
			token, err := s.JwtIssuer.GenerateToken(email)
			if err != nil {
				return c.String(http.StatusInternalServerError, "Failed to generate token")
			}
			return c.JSON(http.StatusOK, map[string]string{
				"email": email,
				"token": token,
			})
		})
	}

	// SPA handler - serve index.html for all other routes
	s.Echo.GET("/*", func(c echo.Context) error {
		// Skip API routes
		if strings.HasPrefix(c.Request().URL.Path, "/api") {
			return echo.NewHTTPError(http.StatusNotFound, "API endpoint not found")
		}
		return c.File("web/web-app.html")
	})
}

func (s *Server) Start() error {
	serverURL := s.Config.Server.Host + ":" + s.Config.Server.Port

	if s.Config.Server.TLS.Enabled {
		if _, err := os.Stat(s.Config.Server.TLS.CertFile); os.IsNotExist(err) {
			s.Echo.Logger.Warn("TLS certificate file not found, falling back to HTTP")
			return s.Echo.Start(serverURL)
		}
		if _, err := os.Stat(s.Config.Server.TLS.KeyFile); os.IsNotExist(err) {
			s.Echo.Logger.Warn("TLS key file not found, falling back to HTTP")
			return s.Echo.Start(serverURL)
		}
		return s.Echo.StartTLS(serverURL, s.Config.Server.TLS.CertFile, s.Config.Server.TLS.KeyFile)
	}

	return s.Echo.Start(serverURL)
}
