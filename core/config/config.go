package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// LineConfig holds LINE Messaging API credentials of the bot channel.
type LineConfig struct {
	ChannelSecret string `yaml:"channel_secret" envconfig:"LINE_BOT_CHANNEL_SECRET"`
	ChannelToken  string `yaml:"channel_token" envconfig:"LINE_BOT_ACCESS_TOKEN"`
	// Endpoint overrides the Messaging API base URL; empty -> SDK default.
	Endpoint string `yaml:"endpoint" envconfig:"LINE_BOT_ENDPOINT"`
}

// PayConfig describes the LINE Pay channel and the single subscription product.
type PayConfig struct {
	ChannelID     string `yaml:"channel_id" envconfig:"LINE_PAY_CHANNEL_ID"`
	ChannelSecret string `yaml:"channel_secret" envconfig:"LINE_PAY_CHANNEL_SECRET"`
	Hostname      string `yaml:"hostname" envconfig:"LINE_PAY_HOSTNAME"`
	Sandbox       bool   `yaml:"sandbox" envconfig:"LINE_PAY_SANDBOX"`
	// ConfirmURL overrides the callback URL handed to LINE Pay on reserve.
	// When empty it is derived from the webhook request host.
	ConfirmURL  string `yaml:"confirm_url" envconfig:"LINE_PAY_CONFIRM_URL"`
	ProductName string `yaml:"product_name" envconfig:"LINE_PAY_PRODUCT_NAME"`
	Amount      int64  `yaml:"amount" envconfig:"LINE_PAY_AMOUNT"`
	Currency    string `yaml:"currency" envconfig:"LINE_PAY_CURRENCY"`
}

// ServerConfig specifies the HTTP listener for both webhooks.
type ServerConfig struct {
	Listen      string `yaml:"listen" envconfig:"SERVER_LISTEN"`
	Port        int    `yaml:"port" envconfig:"PORT"`
	WebhookPath string `yaml:"webhook_path" envconfig:"SERVER_WEBHOOK_PATH"`
	ConfirmPath string `yaml:"confirm_path" envconfig:"SERVER_CONFIRM_PATH"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Listen, s.Port)
}

// SubscriptionConfig controls the paid period.
type SubscriptionConfig struct {
	Period time.Duration `yaml:"period" envconfig:"SUBSCRIPTION_PERIOD"`
}

// MessagesConfig holds every user-facing text the bot sends.
type MessagesConfig struct {
	Offer            string `yaml:"offer"`
	OfferYes         string `yaml:"offer_yes"`
	OfferNo          string `yaml:"offer_no"`
	PaymentPrompt    string `yaml:"payment_prompt"`
	PaymentButton    string `yaml:"payment_button"`
	Declined         string `yaml:"declined"`
	ReserveFailed    string `yaml:"reserve_failed"`
	Paid             string `yaml:"paid"`
	Expired          string `yaml:"expired"`
	StickerPackageID string `yaml:"sticker_package_id"`
	StickerID        string `yaml:"sticker_id"`
}

// DatabaseConfig holds Postgres connection settings for the postgres store driver.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// DSN returns the key/value connection string understood by lib/pq.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// URL returns the postgres:// form used by the migration driver.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// StoreConfig selects the session and reservation backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" envconfig:"STORE_DRIVER"`
	RedisURL    string `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisPrefix string `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`
}

// SenderConfig tunes the asynchronous outbound push queue.
type SenderConfig struct {
	QueueSize    int           `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
	Workers      int           `yaml:"workers" envconfig:"SENDER_WORKERS"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" envconfig:"SENDER_RETRY_BACKOFF"`
}

// AlertsConfig enables operator alerts to a Telegram chat.
type AlertsConfig struct {
	TelegramToken string `yaml:"telegram_token" envconfig:"ALERT_TELEGRAM_TOKEN"`
	AdminID       int64  `yaml:"admin_id" envconfig:"ALERT_TELEGRAM_ADMIN_ID"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// StoreMemory keeps sessions in process memory; lost on restart.
	StoreMemory = "memory"
	// StoreRedis keeps sessions in Redis.
	StoreRedis = "redis"
	// StorePostgres keeps sessions in Postgres.
	StorePostgres = "postgres"
)

const (
	sandboxPayHost    = "sandbox-api-pay.line.me"
	productionPayHost = "api-pay.line.me"
)

// Config aggregates the whole service configuration.
type Config struct {
	Line         LineConfig         `yaml:"line"`
	Pay          PayConfig          `yaml:"pay"`
	Server       ServerConfig       `yaml:"server"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Messages     MessagesConfig     `yaml:"messages"`
	Store        StoreConfig        `yaml:"store"`
	Database     DatabaseConfig     `yaml:"database"`
	Sender       SenderConfig       `yaml:"sender"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Load reads configuration from an optional YAML file and environment variables.
// An empty path skips the file and relies on the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}

	if strings.TrimSpace(cfg.Line.ChannelSecret) == "" {
		return errors.New("line.channel_secret is required")
	}
	if strings.TrimSpace(cfg.Line.ChannelToken) == "" {
		return errors.New("line.channel_token is required")
	}
	if strings.TrimSpace(cfg.Pay.ChannelID) == "" || strings.TrimSpace(cfg.Pay.ChannelSecret) == "" {
		return errors.New("pay.channel_id and pay.channel_secret are required")
	}

	if cfg.Pay.Hostname == "" {
		cfg.Pay.Hostname = productionPayHost
		if cfg.Pay.Sandbox {
			cfg.Pay.Hostname = sandboxPayHost
		}
	}
	if cfg.Pay.ProductName == "" {
		cfg.Pay.ProductName = "チャット商品"
	}
	if cfg.Pay.Amount == 0 {
		cfg.Pay.Amount = 1
	}
	if cfg.Pay.Amount < 0 {
		return fmt.Errorf("pay.amount must be > 0, got %d", cfg.Pay.Amount)
	}
	if cfg.Pay.Currency == "" {
		cfg.Pay.Currency = "JPY"
	}
	cfg.Pay.Currency = strings.ToUpper(cfg.Pay.Currency)

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.Port < 0 {
		return fmt.Errorf("server.port must be > 0, got %d", cfg.Server.Port)
	}
	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = "/webhook"
	}
	if cfg.Server.ConfirmPath == "" {
		cfg.Server.ConfirmPath = "/pay/confirm"
	}

	if cfg.Subscription.Period == 0 {
		cfg.Subscription.Period = time.Minute
	}
	if cfg.Subscription.Period < 0 {
		return fmt.Errorf("subscription.period must be > 0, got %s", cfg.Subscription.Period)
	}

	applyMessageDefaults(&cfg.Messages)

	driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if driver == "" {
		driver = StoreMemory
	}
	switch driver {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(cfg.Store.RedisURL) == "" {
			return errors.New("store.redis_url is required when store.driver is 'redis'")
		}
		if cfg.Store.RedisPrefix == "" {
			cfg.Store.RedisPrefix = "paygate:"
		}
	case StorePostgres:
		if cfg.Database.Host == "" || cfg.Database.Name == "" {
			return errors.New("database.host and database.name are required when store.driver is 'postgres'")
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
	default:
		return fmt.Errorf("invalid store.driver %q; allowed: memory, redis, postgres", cfg.Store.Driver)
	}
	cfg.Store.Driver = driver

	if cfg.Sender.MaxRetries < 0 {
		return fmt.Errorf("sender.max_retries must be >= 0")
	}

	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.AdminID == 0 {
		return errors.New("alerts.admin_id is required when alerts.telegram_token is set")
	}
	return nil
}

func applyMessageDefaults(m *MessagesConfig) {
	set := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	set(&m.Offer, "このチャットボットの利用は１円/月の使用料が必要です。利用を希望しますか？")
	set(&m.OfferYes, "はい")
	set(&m.OfferNo, "いいえ")
	set(&m.PaymentPrompt, "支払いページへとお進み下さい")
	set(&m.PaymentButton, "LINE Payによる支払い")
	set(&m.Declined, "わかりました！")
	set(&m.ReserveFailed, "支払いの準備に失敗しました。しばらくしてからもう一度お試しください。")
	set(&m.Paid, "支払いが完了しました！チャットボットの機能を利用することができます！")
	set(&m.Expired, "Your subscription has expired!")
	set(&m.StickerPackageID, "2")
	set(&m.StickerID, "144")
}

// DefaultMessages returns the built-in user-facing texts.
func DefaultMessages() MessagesConfig {
	var m MessagesConfig
	applyMessageDefaults(&m)
	return m
}
