package common

import (
	"net/http"

	"facilitator-backend/internal/config"
	"facilitator-backend/internal/email"
	"facilitator-backend/internal/notifications"
	"facilitator-backend/internal/store"
	"facilitator-backend/internal/synthesis"
	"facilitator-backend/internal/wizard"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/markbates/goth"
	"github.com/redis/go-redis/v9"
	"github.com/wader/gormstore/v2"
	"gorm.io/gorm"
)

type JwtCustomClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type JWTIssuer interface {
	GenerateToken(email string) (string, error)
	Middleware() echo.MiddlewareFunc
	GetUserEmail(c echo.Context) (string, error)
}

type SocialAuthProvider interface {
	CompleteUserAuth(res http.ResponseWriter, req *http.Request) (goth.User, error)
}

type ServerState struct {
	Echo        *echo.Echo
	Config      *config.Config
	DB          *gorm.DB
	Store       *gormstore.Store
	JwtIssuer   JWTIssuer
	Redis       *redis.Client
	EmailClient email.EmailClient

	Repos      *store.Repositories
	Sessions   wizard.SessionStore
	Notifier   notifications.Notifier
	Summarizer synthesis.Summarizer
	Synthesis  *synthesis.Service
}
