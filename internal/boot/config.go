package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	StoreFile   = "file"
	StoreSQL    = "sql"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	Env     string `env:"ENV,default=dev"`
	DataDir string `env:"DATA_DIR,default=data"`
	Server  struct {
		Port        string   `env:"PORT,default=8080"`
		MetricsPort string   `env:"METRICS_PORT,default=8081"`
		Origins     []string `env:"ALLOWED_ORIGINS,default=*"`
	}
	Store struct {
		Backend     string `env:"STORE_BACKEND,default=file"`
		Driver      string `env:"DATABASE_DRIVER,default=sqlite3"`
		DatabaseURL string `env:"DATABASE_URL"`
	}
	Cache struct {
		Backend  string `env:"CACHE_BACKEND,default=memory"`
		RedisURL string `env:"REDIS_URL"`
	}
	SMTP struct {
		Host     string `env:"SMTP_HOST"`
		Port     int    `env:"SMTP_PORT,default=587"`
		User     string `env:"SMTP_USER"`
		Password string `env:"SMTP_PASSWORD"`
		From     string `env:"SMTP_FROM"`
		FromName string `env:"SMTP_FROM_NAME,default=Cambio"`
		Disable  bool   `env:"SMTP_DISABLE"`
	}
	Email struct {
		SiteName    string `env:"SITE_NAME,default=Cambio"`
		LogoURL     string `env:"LOGO_URL"`
		TemplateDir string `env:"EMAIL_TEMPLATE_DIR"`
	}
	Admin struct {
		PasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
		JWTSecret    string        `env:"ADMIN_JWT_SECRET"`
		TokenTTL     time.Duration `env:"ADMIN_TOKEN_TTL,default=12h"`
	}
	Verification struct {
		MaxAttempts       int    `env:"VERIFY_MAX_ATTEMPTS,default=5"`
		LimitAllBackends  bool   `env:"VERIFY_LIMIT_ALL_BACKENDS"`
		ExposeTestCode    bool   `env:"EXPOSE_TEST_CODE"`
		CodePurgeSchedule string `env:"CODE_PURGE_SCHEDULE,default=*/15 * * * *"`
	}
}

func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(ctx, config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreFile:
	case StoreSQL:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required with STORE_BACKEND=%s", StoreSQL)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required with CACHE_BACKEND=%s", CacheRedis)
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.IsProduction() && c.Verification.ExposeTestCode {
		return fmt.Errorf("EXPOSE_TEST_CODE cannot be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

// LimitAttempts reports whether the daily incorrect-code limit applies to
// the configured store.
func (c *Config) LimitAttempts() bool {
	return c.Store.Backend == StoreFile || c.Verification.LimitAllBackends
}
