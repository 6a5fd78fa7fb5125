package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Telegram bot configuration
	Telegram TelegramConfig `env:",prefix=TELEGRAM_"`

	// Dispatch loop configuration
	Dispatch DispatchConfig `env:",prefix=DISPATCH_"`

	// Participant-facing links and codes
	Links LinksConfig `env:",prefix=LINKS_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
	OpsToken     string `env:"OPS_TOKEN"`                // bearer token for the ops service; empty disables it
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=studyping"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
	Migrate  bool   `env:"MIGRATE,default=true"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// TelegramConfig holds bot credentials. An empty token disables delivery.
type TelegramConfig struct {
	Token         string  `env:"BOT_TOKEN"`
	BotUsername   string  `env:"BOT_USERNAME"`
	WebhookSecret string  `env:"WEBHOOK_SECRET"`
	APIBase       string  `env:"API_BASE,default=https://api.telegram.org"`
	RatePerSecond float64 `env:"RATE_PER_SECOND,default=25"`
}

// DispatchConfig holds the dispatch loop limits
type DispatchConfig struct {
	Schedule    string        `env:"SCHEDULE,default=@every 1m"`
	Workers     int           `env:"WORKERS,default=8"`
	BatchSize   int           `env:"BATCH_SIZE,default=500"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT,default=10s"`
	TickTimeout time.Duration `env:"TICK_TIMEOUT,default=5m"`
}

// LinksConfig holds forwarding link and code settings
type LinksConfig struct {
	BaseURL          string        `env:"BASE_URL,default=http://localhost:8080"`
	DefaultLinkText  string        `env:"DEFAULT_LINK_TEXT,default=Click here"`
	LinkCodeTTL      time.Duration `env:"LINK_CODE_TTL,default=24h"`
	DashboardCodeTTL time.Duration `env:"DASHBOARD_CODE_TTL,default=60m"`
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables take precedence over it.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	} else {
		log.Println("Loaded configuration from .env")
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// Enabled reports whether a bot token is configured
func (c *TelegramConfig) Enabled() bool {
	return c.Token != ""
}
