package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string   `yaml:"port"`
	DatabaseURL string   `yaml:"database_url"`
	LogLevel    string   `yaml:"log_level"`
	CORSOrigins []string `yaml:"cors_origins"`

	Queue   QueueConfig   `yaml:"queue"`
	Mail    MailConfig    `yaml:"mail"`
	CRM     CRMConfig     `yaml:"crm"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type QueueConfig struct {
	DSN              string        `yaml:"dsn"`
	Workers          int           `yaml:"workers"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	SerializePerLead bool          `yaml:"serialize_per_lead"`
}

type MailConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	From      string `yaml:"from"`
	FirmName  string `yaml:"firm_name"`
	FirmPhone string `yaml:"firm_phone"`
}

type CRMConfig struct {
	APIToken   string `yaml:"api_token"`
	BaseURL    string `yaml:"base_url"`
	LocationID string `yaml:"location_id"`
	PipelineID string `yaml:"pipeline_id"`
	StageID    string `yaml:"stage_id"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

func Default() *Config {
	return &Config{
		Port:        "8080",
		LogLevel:    "info",
		CORSOrigins: []string{"http://localhost:5173"},
		Queue: QueueConfig{
			Workers:      4,
			PollInterval: 500 * time.Millisecond,
		},
		Mail: MailConfig{
			Port:     587,
			FirmName: "Our Firm",
		},
	}
}

// Load reads .env (if present), the optional YAML file named by
// NURTURE_CONFIG, then applies environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFile(os.Getenv("NURTURE_CONFIG"))
}

// LoadFile is Load without .env handling. An empty or missing path yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Port, "PORT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	setString(&c.Queue.DSN, "QUEUE_DSN")
	setInt(&c.Queue.Workers, "QUEUE_WORKERS")
	setDuration(&c.Queue.PollInterval, "QUEUE_POLL_INTERVAL")
	setBool(&c.Queue.SerializePerLead, "QUEUE_SERIALIZE_PER_LEAD")

	setString(&c.Mail.Host, "MAIL_HOST")
	setInt(&c.Mail.Port, "MAIL_PORT")
	setString(&c.Mail.User, "MAIL_USER")
	setString(&c.Mail.Password, "MAIL_PASS")
	setString(&c.Mail.From, "MAIL_FROM")
	setString(&c.Mail.FirmName, "FIRM_NAME")
	setString(&c.Mail.FirmPhone, "FIRM_PHONE")

	setString(&c.CRM.APIToken, "CRM_API_TOKEN")
	setString(&c.CRM.BaseURL, "CRM_BASE_URL")
	setString(&c.CRM.LocationID, "CRM_LOCATION_ID")
	setString(&c.CRM.PipelineID, "CRM_PIPELINE_ID")
	setString(&c.CRM.StageID, "CRM_STAGE_ID")

	setString(&c.Webhook.Secret, "WEBHOOK_SECRET")
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("config: queue workers must be at least 1, got %d", c.Queue.Workers)
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		return fmt.Errorf("config: invalid mail port %d", c.Mail.Port)
	}
	return nil
}

// QueueDSN is the configured queue DSN, or DatabaseURL when none is set so
// scheduled jobs survive restarts. memory:// must be chosen explicitly.
func (c *Config) QueueDSN() string {
	if dsn := strings.TrimSpace(c.Queue.DSN); dsn != "" {
		return dsn
	}
	return c.DatabaseURL
}

// CRMEnabled reports whether enough is configured to talk to the CRM.
func (c *Config) CRMEnabled() bool {
	return c.CRM.APIToken != "" && c.CRM.LocationID != ""
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations ("750ms") or plain milliseconds ("750").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func splitList(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
