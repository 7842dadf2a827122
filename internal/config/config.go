package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageSQL  = "sql"
	StorageREST = "rest"
)

type Config struct {
	Server struct {
		Port string
		Host string
		TLS  struct {
			Enabled  bool
			CertFile string
			KeyFile  string
		}
		DeployDomain string
		Debug        bool
	}
	Auth struct {
		GoogleKey      string
		GoogleSecret   string
		GoogleRedirect string
		GithubKey      string
		GithubSecret   string
		GithubRedirect string
		SessionSecret  string
		// Only emails from this domain may sign in through OAuth.
		// Empty means any domain is accepted.
		AllowedDomain string
	}
	Database struct {
		DSN      string
		RedisURI string
	}
	Storage struct {
		Backend string
		RestURL string
		RestKey string
	}
	Resend struct {
		APIKey        string
		DefaultSender string
	}
	Sentry struct {
		DSN string
	}
	Synthesis struct {
		Model     string
		BaseURL   string
		MaxTokens int
	}
	Crypto struct {
		// Base64 encoded AES key used for integration secrets at rest
		SettingsKey string
	}
	Results struct {
		PollInterval time.Duration
	}
}

func Load() (*Config, error) {

	envStack := os.Getenv("ENV_STACK")

	if envStack != "" {
		filePath := "./env-files/.env." + envStack
		err := godotenv.Load(filePath)
		if err != nil {
			fmt.Printf("Error loading .env file: %s\n", err)
		}
	}

	c := &Config{}

	c.Server.Port = os.Getenv("SERVER_PORT")
	if c.Server.Port == "" {
		c.Server.Port = "1926"
	}

	c.Server.Host = os.Getenv("SERVER_HOST")
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}

	c.Server.DeployDomain = os.Getenv("DEPLOY_DOMAIN")
	if c.Server.DeployDomain == "" {
		c.Server.DeployDomain = c.Server.Host + ":" + c.Server.Port
	}

	c.Server.Debug = os.Getenv("ENABLE_DEBUG_ENDPOINTS") == "true"

	// TLS Configuration
	useTLS := os.Getenv("USE_TLS")
	c.Server.TLS.Enabled = useTLS != "false" && useTLS != "0"
	c.Server.TLS.CertFile = "./certs/localhost.pem"
	c.Server.TLS.KeyFile = "./certs/localhost-key.pem"

	c.Auth.SessionSecret = os.Getenv("SESSION_SECRET")
	c.Auth.AllowedDomain = os.Getenv("ALLOWED_EMAIL_DOMAIN")

	c.Auth.GoogleKey = os.Getenv("GOOGLE_KEY")
	c.Auth.GoogleSecret = os.Getenv("GOOGLE_SECRET")
	c.Auth.GoogleRedirect = fmt.Sprintf("https://%s/api/auth/social/google/callback", c.Server.DeployDomain)

	c.Auth.GithubKey = os.Getenv("GITHUB_KEY")
	c.Auth.GithubSecret = os.Getenv("GITHUB_SECRET")
	c.Auth.GithubRedirect = fmt.Sprintf("https://%s/api/auth/social/github/callback", c.Server.DeployDomain)

	c.Database.DSN = os.Getenv("DATABASE_DSN")
	c.Database.RedisURI = os.Getenv("REDIS_URI")

	c.Storage.Backend = os.Getenv("STORAGE_BACKEND")
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageSQL
	}
	c.Storage.RestURL = os.Getenv("STORAGE_REST_URL")
	c.Storage.RestKey = os.Getenv("STORAGE_REST_KEY")

	c.Resend.APIKey = os.Getenv("RESEND_API_KEY")
	c.Resend.DefaultSender = os.Getenv("RESEND_DEFAULT_SENDER")
	if c.Resend.DefaultSender == "" {
		c.Resend.DefaultSender = "noreply@facilitator.app"
	}

	c.Sentry.DSN = os.Getenv("SENTRY_DSN")

	c.Synthesis.Model = os.Getenv("SYNTHESIS_MODEL")
	if c.Synthesis.Model == "" {
		c.Synthesis.Model = "claude-sonnet-4-20250514"
	}
	c.Synthesis.BaseURL = os.Getenv("SYNTHESIS_BASE_URL")
	if c.Synthesis.BaseURL == "" {
		c.Synthesis.BaseURL = "https://api.anthropic.com"
	}
	c.Synthesis.MaxTokens = 1000
	if raw := os.Getenv("SYNTHESIS_MAX_TOKENS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c, fmt.Errorf("SYNTHESIS_MAX_TOKENS must be a positive integer, got: %s", raw)
		}
		c.Synthesis.MaxTokens = n
	}

	c.Crypto.SettingsKey = os.Getenv("SETTINGS_ENCRYPTION_KEY")

	c.Results.PollInterval = 30 * time.Second
	if raw := os.Getenv("RESULTS_POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return c, fmt.Errorf("RESULTS_POLL_INTERVAL is not a valid duration: %w", err)
		}
		c.Results.PollInterval = d
	}

	return c, c.Validate()
}

// Validate checks combinations of settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageSQL:
	case StorageREST:
		if c.Storage.RestURL == "" {
			return fmt.Errorf("STORAGE_REST_URL is required when STORAGE_BACKEND is %q", StorageREST)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	if c.Crypto.SettingsKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Crypto.SettingsKey)
		if err != nil {
			return fmt.Errorf("SETTINGS_ENCRYPTION_KEY is not valid base64: %w", err)
		}
		if len(key) != 16 && len(key) != 24 && len(key) != 32 {
			return fmt.Errorf("SETTINGS_ENCRYPTION_KEY must decode to 16, 24 or 32 bytes, got %d", len(key))
		}
	}

	if c.Results.PollInterval <= 0 {
		return fmt.Errorf("RESULTS_POLL_INTERVAL must be positive")
	}

	return nil
}

// ShareBaseURL is the public origin used for review and invite links.
func (c *Config) ShareBaseURL() string {
	return "https://" + c.Server.DeployDomain
}
