package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Port     int    `env:"PORT" envDefault:"5000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	// Set by the hosting platform; caps the pool to a single connection.
	Vercel       string `env:"VERCEL"`
	LambdaFnName string `env:"AWS_LAMBDA_FUNCTION_NAME"`

	JWTSecret           string   `env:"JWT_SECRET"`
	JWTRefreshSecret    string   `env:"JWT_REFRESH_SECRET"`
	JWTExpiresIn        Duration `env:"JWT_EXPIRES_IN" envDefault:"7d"`
	JWTRefreshExpiresIn Duration `env:"JWT_REFRESH_EXPIRES_IN" envDefault:"30d"`
	BcryptCost          int      `env:"BCRYPT_SALT_ROUNDS" envDefault:"12"`

	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"http://localhost:3000"`

	RedisURL        string        `env:"REDIS_URL"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"100"`

	Firebase Firebase
	Email    Email
}

// Firebase holds identity provider credentials.
type Firebase struct {
	ProjectID       string `env:"FIREBASE_PROJECT_ID"`
	CredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	CredentialsJSON string `env:"FIREBASE_CREDENTIALS_JSON"`
}

// Email holds SMTP settings. When Host, User or Pass is empty the mailer
// runs in development mode and logs links instead of sending them.
type Email struct {
	Host     string `env:"EMAIL_HOST"`
	Port     int    `env:"EMAIL_PORT" envDefault:"587"`
	Secure   bool   `env:"EMAIL_SECURE" envDefault:"false"`
	User     string `env:"EMAIL_USER"`
	Pass     string `env:"EMAIL_PASS"`
	FromName string `env:"EMAIL_FROM_NAME" envDefault:"Pix2Land"`
}

// Load reads a .env file when present, then the environment, and validates
// required fields.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the app runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsServerless reports whether the process runs on a scale-to-zero platform.
func (c Config) IsServerless() bool {
	return c.Vercel != "" || c.LambdaFnName != ""
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.JWTRefreshSecret == "" {
		return fmt.Errorf("JWT_REFRESH_SECRET is required")
	}
	if c.JWTSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_SALT_ROUNDS must be between 4 and 31")
	}
	return nil
}

// Duration accepts Go durations ("15m", "168h") and a day suffix ("7d").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		*d = Duration(time.Duration(n) * 24 * time.Hour)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
