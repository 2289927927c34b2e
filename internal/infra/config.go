package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config корневая структура конфигурации сервиса аналитики.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr возвращает адрес для http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL с RPC-функциями метрик.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (L2 кэш грантов и канал инвалидации).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу для проверки JWT.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// AnalyticsConfig параметры разрешения области и запросов дашборда.
type AnalyticsConfig struct {
	GrantCacheTTL    time.Duration `mapstructure:"grant_cache_ttl"`
	GrantCacheSize   int           `mapstructure:"grant_cache_size"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
	DefaultRangeDays int           `mapstructure:"default_range_days"`
	ViewIdleTTL      time.Duration `mapstructure:"view_idle_ttl"`
	ViewCapacity     int           `mapstructure:"view_capacity"`
	Timezone         string        `mapstructure:"timezone"`
}

// Location часовой пояс, в котором считается "сегодня" для диапазона по умолчанию.
func (a AnalyticsConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("analytics.timezone: %w", err)
	}
	return loc, nil
}

// BackendConfig защита бэкенда метрик.
type BackendConfig struct {
	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	RetryAttempts uint    `mapstructure:"retry_attempts"`
	RateLimit     float64 `mapstructure:"rate_limit"` // rps на инстанс
	RateBurst     int     `mapstructure:"rate_burst"`
}

// AuditConfig фоновая запись событий имперсонации.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// ANALYTICS_QUERY_TIMEOUT=20s перекроет analytics.query_timeout
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет: работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// PEM-ключ может прийти прямо в ENV (Docker/K8s), иначе читаем файл
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("analytics.grant_cache_ttl", time.Hour)
	v.SetDefault("analytics.grant_cache_size", 10000)
	v.SetDefault("analytics.query_timeout", 15*time.Second)
	v.SetDefault("analytics.default_range_days", 30)
	v.SetDefault("analytics.view_idle_ttl", 10*time.Minute)
	v.SetDefault("analytics.view_capacity", 10000)
	v.SetDefault("analytics.timezone", "UTC")
	v.SetDefault("backend.cb_max_requests", 3)
	v.SetDefault("backend.cb_interval", time.Minute)
	v.SetDefault("backend.cb_timeout", 30*time.Second)
	v.SetDefault("backend.retry_attempts", 3)
	v.SetDefault("backend.rate_limit", 50.0)
	v.SetDefault("backend.rate_burst", 100)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func (c *Config) validate() error {
	if c.Analytics.DefaultRangeDays < 1 {
		return fmt.Errorf("analytics.default_range_days must be positive, got %d", c.Analytics.DefaultRangeDays)
	}
	if c.Backend.RetryAttempts < 1 {
		return fmt.Errorf("backend.retry_attempts must be positive, got %d", c.Backend.RetryAttempts)
	}
	if _, err := c.Analytics.Location(); err != nil {
		return err
	}
	return nil
}

// loadKeyResource читает сначала ENV с содержимым ключа, затем файл по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
