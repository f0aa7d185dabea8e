// Package config предоставляет структуры и функции для загрузки конфигурации
// сервиса лицензионных ключей из YAML-файла с переопределением через окружение.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env            string          `yaml:"env" env:"APP_ENV" env-default:"local"`
	Storage        Storage         `yaml:"storage"`
	HTTPServer     HTTPServer      `yaml:"http_server"`
	Redis          RedisConnection `yaml:"redis_connection"`
	RabbitMQ       RabbitMQ        `yaml:"rabbitmq"`
	JWTToken       JWTToken        `yaml:"jwttoken"`
	Policy         Policy          `yaml:"policy"`
	BootstrapAdmin BootstrapAdmin  `yaml:"bootstrap_admin"`
	RateLimit      RateLimit       `yaml:"rate_limit"`
}

// Storage настройки хранилища. Driver выбирает адаптер: postgres или bolt.
type Storage struct {
	Driver         string        `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	PostgresDSN    string        `yaml:"postgres_dsn" env:"STORAGE_POSTGRES_DSN"`
	BoltPath       string        `yaml:"bolt_path" env:"STORAGE_BOLT_PATH" env-default:"./data/license-keys.db"`
	MigrationsPath string        `yaml:"migrations_path" env:"STORAGE_MIGRATIONS_PATH" env-default:"./migrations"`
	OpenTimeout    time.Duration `yaml:"open_timeout" env-default:"5s"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// TrustProxy включает разбор X-Forwarded-For/X-Real-IP. Только за своим прокси.
	TrustProxy  bool          `yaml:"trust_proxy" env:"HTTP_TRUST_PROXY"`
}

// RedisConnection структура для подключения к redis. Пустой адрес отключает кэш.
type RedisConnection struct {
	Address     string        `yaml:"address" env:"REDIS_ADDRESS"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	User        string        `yaml:"user"`
	DB          int           `yaml:"db"`
	MaxRetries  int           `yaml:"max_retries" env-default:"1"`
	DialTimeout time.Duration `yaml:"dial_timeout" env-default:"2s"`
	Timeout     time.Duration `yaml:"timeout" env-default:"1s"`
}

// RabbitMQ настройки публикации ленты изменений. Пустой URL отключает публикацию.
type RabbitMQ struct {
	URL      string        `yaml:"url" env:"RABBITMQ_URL"`
	Exchange string        `yaml:"exchange" env-default:"license_keys"`
	Retries  int           `yaml:"retries" env-default:"5"`
	Delay    time.Duration `yaml:"delay" env-default:"2s"`
}

// JWTToken структура для работы с jwt-токеном.
type JWTToken struct {
	SecretKey string        `yaml:"secret_key" env:"JWT_SECRET_KEY" env-required:"true"`
	TokenTTL  time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Policy параметры политики выдачи ключей и регистрации.
type Policy struct {
	UserLimit            int           `yaml:"user_limit" env:"POLICY_USER_LIMIT" env-default:"5"`
	TrialDurationMinutes int           `yaml:"trial_duration_minutes" env-default:"60"`
	MaxDeviceLimit       int           `yaml:"max_device_limit" env-default:"5"`
	KeyPrefix            string        `yaml:"key_prefix" env-default:"VENOM"`
	RequireInvite        bool          `yaml:"require_invite" env:"POLICY_REQUIRE_INVITE"`
	EmailDomain          string        `yaml:"email_domain" env-default:"venom.vip"`
	KeyCacheTTL          time.Duration `yaml:"key_cache_ttl" env-default:"30s"`
}

// BootstrapAdmin — пара логин/пароль, регистрация с которой создаёт администратора.
// Пустые значения отключают механизм.
type BootstrapAdmin struct {
	Username string `yaml:"username" env:"BOOTSTRAP_ADMIN_USERNAME"`
	Password string `yaml:"password" env:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// Enabled сообщает, задана ли пара для первичного администратора.
func (b BootstrapAdmin) Enabled() bool {
	return b.Username != "" && b.Password != ""
}

// RateLimit ограничения частоты запросов с одного адреса.
type RateLimit struct {
	ValidateRPS   float64 `yaml:"validate_rps" env-default:"5"`
	ValidateBurst int     `yaml:"validate_burst" env-default:"10"`
	AuthRPS       float64 `yaml:"auth_rps" env-default:"1"`
	AuthBurst     int     `yaml:"auth_burst" env-default:"3"`
}

// MustLoad загружает конфиг по пути из CONFIG_PATH и завершает процесс при ошибке.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла, применяет переменные окружения и проверяет значения.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for driver %q", DriverPostgres)
		}
	case DriverBolt:
		if c.Storage.BoltPath == "" {
			return fmt.Errorf("storage.bolt_path is required for driver %q", DriverBolt)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Policy.UserLimit < 0 {
		return fmt.Errorf("policy.user_limit must not be negative")
	}
	if c.Policy.TrialDurationMinutes <= 0 {
		return fmt.Errorf("policy.trial_duration_minutes must be positive")
	}
	if c.Policy.MaxDeviceLimit < 1 {
		return fmt.Errorf("policy.max_device_limit must be at least 1")
	}
	return nil
}

// String печатает конфиг без секретов.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Storage:\n"+
			"  Driver: %s\n"+
			"  BoltPath: %s\n"+
			"  MigrationsPath: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Redis:\n"+
			"  Address: %s\n"+
			"  DB: %d\n"+
			"RabbitMQ:\n"+
			"  Enabled: %t\n"+
			"  Exchange: %s\n"+
			"JWTToken:\n"+
			"  TokenTTL: %s\n"+
			"Policy:\n"+
			"  UserLimit: %d\n"+
			"  TrialDurationMinutes: %d\n"+
			"  RequireInvite: %t\n"+
			"BootstrapAdmin:\n"+
			"  Enabled: %t\n",
		c.Env,
		c.Storage.Driver,
		c.Storage.BoltPath,
		c.Storage.MigrationsPath,
		c.HTTPServer.Address,
		c.HTTPServer.Timeout,
		c.HTTPServer.IdleTimeout,
		c.Redis.Address,
		c.Redis.DB,
		c.RabbitMQ.URL != "",
		c.RabbitMQ.Exchange,
		c.JWTToken.TokenTTL,
		c.Policy.UserLimit,
		c.Policy.TrialDurationMinutes,
		c.Policy.RequireInvite,
		c.BootstrapAdmin.Enabled(),
	)
}
