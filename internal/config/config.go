package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Log      LogConfig
	OpenAI   OpenAIConfig
}

type AppConfig struct {
	Env string // development, production
}

type ServerConfig struct {
	Port           string
	AllowedOrigins string // comma-separated; empty disables CORS
	MaxBodyBytes   int64
}

// DatabaseConfig selects the store. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver     string
	URL        string
	SQLitePath string
}

type LedgerConfig struct {
	MaxAttempts    int
	PurchaseBucket string
	DefaultFreight string
	FreightBucket  string
	VaultBucket    string
	ProfitBucket   string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

// Load reads .env (if present), then config.toml (if present), then FLOW_* environment
// variables, in increasing order of precedence. DATABASE_URL and OPENAI_API_KEY are
// honoured without the prefix.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "FLOW_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("openai.api_key", "FLOW_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("server.port", "FLOW_SERVER_PORT", "SERVER_PORT")
	_ = v.BindEnv("server.allowed_origins", "FLOW_SERVER_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")

	cfg := &Config{
		App: AppConfig{
			Env: v.GetString("app.env"),
		},
		Server: ServerConfig{
			Port:           v.GetString("server.port"),
			AllowedOrigins: v.GetString("server.allowed_origins"),
			MaxBodyBytes:   v.GetInt64("server.max_body_bytes"),
		},
		Database: DatabaseConfig{
			Driver:     v.GetString("database.driver"),
			URL:        v.GetString("database.url"),
			SQLitePath: v.GetString("database.sqlite_path"),
		},
		Ledger: LedgerConfig{
			MaxAttempts:    v.GetInt("ledger.max_attempts"),
			PurchaseBucket: v.GetString("ledger.purchase_bucket"),
			DefaultFreight: v.GetString("ledger.default_freight"),
			FreightBucket:  v.GetString("ledger.freight_bucket"),
			VaultBucket:    v.GetString("ledger.vault_bucket"),
			ProfitBucket:   v.GetString("ledger.profit_bucket"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		OpenAI: OpenAIConfig{
			APIKey: v.GetString("openai.api_key"),
			Model:  v.GetString("openai.model"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "flowdistributor.db")
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.purchase_bucket", "almacen_monte")
	v.SetDefault("ledger.default_freight", "500")
	v.SetDefault("ledger.freight_bucket", "fletes")
	v.SetDefault("ledger.vault_bucket", "boveda_monte")
	v.SetDefault("ledger.profit_bucket", "utilidades")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("openai.model", "gpt-4o")
}

// Validate checks the configuration for values the application cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url (or DATABASE_URL) is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q: want postgres or sqlite", c.Database.Driver)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be at least 1, got %d", c.Ledger.MaxAttempts)
	}
	if _, err := c.Ledger.CoreConfig(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
