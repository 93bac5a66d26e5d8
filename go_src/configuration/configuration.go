package configuration

import (
	"crypto/cipher"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/secrets"
	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRADE_CALENDAR_"

// Config struct to hold the configuration data
type Config struct {
	Calendars []CalendarSettings `json:"calendars" yaml:"calendars" validate:"required,min=1,dive"`
	Database  Database           `json:"database" yaml:"database"`
	RabbitMQ  RabbitMQ           `json:"rabbitmq" yaml:"rabbitmq"`
	Kafka     Kafka              `json:"kafka" yaml:"kafka"`
	Redis     Redis              `json:"redis" yaml:"redis"`
	Server    Server             `json:"server" yaml:"server"`
	Scheduler SchedulerSettings  `json:"scheduler_settings" yaml:"scheduler_settings"`
	Logging   Logging            `json:"logging" yaml:"logging"`
	Secrets   Secrets            `json:"secrets" yaml:"secrets"`
}

// CalendarSettings describes one named trading calendar.
type CalendarSettings struct {
	Name        string          `json:"name" yaml:"name" validate:"required"`
	Market      string          `json:"market,omitempty" yaml:"market,omitempty"`
	Session     calendar.Config `json:"session" yaml:"session"`
	ClosedDates []string        `json:"closed_dates,omitempty" yaml:"closed_dates,omitempty"` // e.g. ["2024-12-25", "2025-01-01"]
	Holidays    HolidaySettings `json:"holidays" yaml:"holidays"`
}

// HolidaySettings selects where a calendar reads its holidays from. The
// "static" source is the closed_dates list; sources are combined.
type HolidaySettings struct {
	Sources            []string `json:"sources,omitempty" yaml:"sources,omitempty" validate:"dive,oneof=static database http alpaca"`
	HTTPURL            string   `json:"http_url,omitempty" yaml:"http_url,omitempty" validate:"omitempty,url"`
	HTTPAPIKey         string   `json:"http_api_key,omitempty" yaml:"http_api_key,omitempty"`
	HTTPRatePerSecond  float64  `json:"http_rate_per_second,omitempty" yaml:"http_rate_per_second,omitempty" validate:"gte=0"`
	AlpacaKey          string   `json:"alpaca_key,omitempty" yaml:"alpaca_key,omitempty"`
	AlpacaSecret       string   `json:"alpaca_secret,omitempty" yaml:"alpaca_secret,omitempty"`
	AlpacaBaseURL      string   `json:"alpaca_base_url,omitempty" yaml:"alpaca_base_url,omitempty"`
	AlpacaRegularClose string   `json:"alpaca_regular_close,omitempty" yaml:"alpaca_regular_close,omitempty"`
	Cache              bool     `json:"cache" yaml:"cache"`
	CacheTTL           string   `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
	Timeout            string   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Database struct
type Database struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver" validate:"omitempty,oneof=duckdb sqlite"`
	Path    string `json:"path" yaml:"path" validate:"required_if=Enabled true"`
	Journal bool   `json:"journal" yaml:"journal"` // store emitted events
}

// RabbitMQ struct
type RabbitMQ struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url" validate:"required_if=Enabled true"`
	Queue   string `json:"queue" yaml:"queue"`
}

type Kafka struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Brokers     []string `json:"brokers" yaml:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic       string   `json:"topic" yaml:"topic" validate:"required_if=Enabled true"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
}

type Redis struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db" validate:"gte=0"`
}

// Server exposes the query API, the event websocket and metrics.
type Server struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// SchedulerSettings tunes the calendar manager. Durations use Go syntax ("10s").
type SchedulerSettings struct {
	RetryInterval     string `json:"retry_interval,omitempty" yaml:"retry_interval,omitempty"`
	ResolveTimeout    string `json:"resolve_timeout,omitempty" yaml:"resolve_timeout,omitempty"`
	HeartbeatInterval string `json:"heartbeat_interval,omitempty" yaml:"heartbeat_interval,omitempty"`
	DefaultTimezone   string `json:"default_timezone,omitempty" yaml:"default_timezone,omitempty"`
}

// Logging struct
type Logging struct {
	Level         string `json:"level" yaml:"level" validate:"required,oneof=trace debug info warn warning error fatal panic"`
	FilePath      string `json:"file_path" yaml:"file_path" validate:"required"`
	RotationSize  int    `json:"rotation_size" yaml:"rotation_size"` // in MB
	MaxBackups    int    `json:"max_backups" yaml:"max_backups"`
	ConsoleOutput bool   `json:"console_output" yaml:"console_output"`
	Format        string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// Secrets locates the key material for "enc:" values.
type Secrets struct {
	SecretEnv string `json:"secret_env,omitempty" yaml:"secret_env,omitempty"`
	SaltFile  string `json:"salt_file,omitempty" yaml:"salt_file,omitempty"`
}

var validate = validator.New()

// LoadDotEnv loads .env files into the environment, ignoring missing files.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logrus.Warnf("Failed to load env file %s: %v", p, err)
		}
	}
}

// LoadConfig loads configuration from a JSON or YAML file and applies environment overrides.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config JSON: %w", err)
		}
	}
	config.applyEnv()
	return &config, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"LOG_LEVEL", &c.Logging.Level},
		{"LOG_PATH", &c.Logging.FilePath},
		{"DB_DRIVER", &c.Database.Driver},
		{"DB_PATH", &c.Database.Path},
		{"RABBITMQ_URL", &c.RabbitMQ.URL},
		{"KAFKA_TOPIC", &c.Kafka.Topic},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"SERVER_ADDR", &c.Server.Addr},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(EnvPrefix + o.key); ok {
			*o.dst = v
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

// ValidateConfig checks the presence and correctness of all required configuration fields.
func (c *Config) ValidateConfig() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	seen := make(map[string]bool)
	for i, cal := range c.Calendars {
		key := fmt.Sprintf("calendars[%d]", i)
		if seen[cal.Name] {
			return trade_exceptions.NewConfigurationError(key+".name", "duplicate calendar name '%s'", cal.Name)
		}
		seen[cal.Name] = true

		if err := cal.Session.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("%s (%s) session: %w", key, cal.Name, err)
		}
		if cal.Session.Timezone != "" {
			if _, err := time.LoadLocation(cal.Session.Timezone); err != nil {
				return trade_exceptions.NewConfigurationError(key+".session.timezone", "invalid timezone '%s': %v", cal.Session.Timezone, err)
			}
		}
		if v := cal.Session.Virtual; v != nil {
			if _, err := calendar.NewVirtualTime(*v, time.UTC, time.Now().UnixMilli()); err != nil {
				return fmt.Errorf("%s (%s) session: %w", key, cal.Name, err)
			}
		}
		for _, d := range cal.ClosedDates {
			if _, err := calendar.ParseTradeDateString(d); err != nil {
				return trade_exceptions.NewConfigurationError(key+".closed_dates", "%v", err)
			}
		}
		h := cal.Holidays
		for _, src := range h.Sources {
			switch src {
			case "http":
				if h.HTTPURL == "" {
					return trade_exceptions.NewConfigurationError(key+".holidays.http_url", "required for the http source")
				}
			case "alpaca":
				if h.AlpacaKey == "" || h.AlpacaSecret == "" {
					return trade_exceptions.NewConfigurationError(key+".holidays.alpaca_key", "alpaca_key and alpaca_secret are required for the alpaca source")
				}
				if h.AlpacaRegularClose != "" {
					if _, err := calendar.ParseTimePoint(h.AlpacaRegularClose); err != nil {
						return trade_exceptions.NewConfigurationError(key+".holidays.alpaca_regular_close", "%v", err)
					}
				}
			case "database":
				if !c.Database.Enabled {
					return trade_exceptions.NewConfigurationError(key+".holidays.sources", "the database source requires database.enabled")
				}
			}
		}
		if h.Cache && c.Redis.Addr == "" {
			return trade_exceptions.NewConfigurationError(key+".holidays.cache", "holiday caching requires redis.addr")
		}
		for name, d := range map[string]string{"cache_ttl": h.CacheTTL, "timeout": h.Timeout} {
			if _, err := parseDuration(d, 0); err != nil {
				return trade_exceptions.NewConfigurationError(key+".holidays."+name, "%v", err)
			}
		}
	}

	for name, d := range map[string]string{
		"retry_interval":     c.Scheduler.RetryInterval,
		"resolve_timeout":    c.Scheduler.ResolveTimeout,
		"heartbeat_interval": c.Scheduler.HeartbeatInterval,
	} {
		if _, err := parseDuration(d, 0); err != nil {
			return trade_exceptions.NewConfigurationError("scheduler_settings."+name, "%v", err)
		}
	}
	if tz := c.Scheduler.DefaultTimezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return trade_exceptions.NewConfigurationError("scheduler_settings.default_timezone", "invalid timezone '%s': %v", tz, err)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	first := verrs[0]
	return trade_exceptions.NewConfigurationError(first.Namespace(), "%s", strings.Join(msgs, ", "))
}

// parseDuration parses a Go duration, returning def for an empty string.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s': %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration '%s' must not be negative", s)
	}
	return d, nil
}

// Duration returns the parsed value of s or def when unset or invalid.
func Duration(s string, def time.Duration) time.Duration {
	d, err := parseDuration(s, def)
	if err != nil || d == 0 {
		return def
	}
	return d
}

// CalendarConfigs returns each calendar's session config with the scheduler's
// default timezone applied where the calendar sets none.
func (c *Config) CalendarConfigs() map[string]calendar.Config {
	out := make(map[string]calendar.Config, len(c.Calendars))
	for _, cal := range c.Calendars {
		cfg := cal.Session
		if cfg.Timezone == "" {
			cfg.Timezone = c.Scheduler.DefaultTimezone
		}
		out[cal.Name] = cfg
	}
	return out
}

// Calendar returns the settings of the named calendar.
func (c *Config) Calendar(name string) (CalendarSettings, bool) {
	for _, cal := range c.Calendars {
		if cal.Name == name {
			return cal, true
		}
	}
	return CalendarSettings{}, false
}

// SecretsCipher builds the cipher for encrypted values. It returns nil when the
// secret environment variable is unset.
func (c *Config) SecretsCipher() (cipher.AEAD, error) {
	envName := c.Secrets.SecretEnv
	if envName == "" {
		envName = EnvPrefix + "SECRET"
	}
	secret := os.Getenv(envName)
	if secret == "" {
		return nil, nil
	}
	saltFile := c.Secrets.SaltFile
	if saltFile == "" {
		saltFile = filepath.Join(c.Logging.FilePath, "trade-calendar.salt")
	}
	return secrets.NewCipher(secret, saltFile)
}

// DecryptSecrets replaces every "enc:" value with its plaintext.
func (c *Config) DecryptSecrets(aead cipher.AEAD) error {
	fields := []struct {
		key string
		dst *string
	}{
		{"rabbitmq.url", &c.RabbitMQ.URL},
		{"redis.password", &c.Redis.Password},
	}
	for i := range c.Calendars {
		h := &c.Calendars[i].Holidays
		prefix := fmt.Sprintf("calendars[%d].holidays.", i)
		fields = append(fields,
			struct {
				key string
				dst *string
			}{prefix + "http_api_key", &h.HTTPAPIKey},
			struct {
				key string
				dst *string
			}{prefix + "alpaca_key", &h.AlpacaKey},
			struct {
				key string
				dst *string
			}{prefix + "alpaca_secret", &h.AlpacaSecret},
		)
	}
	for _, f := range fields {
		plain, err := secrets.DecryptValue(aead, *f.dst)
		if err != nil {
			return trade_exceptions.NewConfigurationError(f.key, "%v", err)
		}
		*f.dst = plain
	}
	return nil
}

// GetConfigValue retrieves a configuration value using a dot-separated key,
// matching json tags or field names. Numeric parts index into slices.
func (c *Config) GetConfigValue(key string) (interface{}, error) {
	currentValue := reflect.ValueOf(c).Elem()

	for _, part := range strings.Split(key, ".") {
		if currentValue.Kind() == reflect.Ptr {
			if currentValue.IsNil() {
				return nil, fmt.Errorf("key part '%s' is nil in key '%s'", part, key)
			}
			currentValue = currentValue.Elem()
		}

		if index, err := strconv.Atoi(part); err == nil {
			if currentValue.Kind() != reflect.Slice {
				return nil, fmt.Errorf("key part '%s' is an index but not a slice in key '%s'", part, key)
			}
			if index < 0 || index >= currentValue.Len() {
				return nil, fmt.Errorf("index out of range for key part '%s' in key '%s'", part, key)
			}
			currentValue = currentValue.Index(index)
			continue
		}

		if currentValue.Kind() != reflect.Struct {
			return nil, fmt.Errorf("key part '%s' is not a struct in key '%s'", part, key)
		}
		typ := currentValue.Type()
		field := currentValue.FieldByNameFunc(func(fieldName string) bool {
			structField, ok := typ.FieldByName(fieldName)
			if !ok {
				return false
			}
			if strings.Split(structField.Tag.Get("json"), ",")[0] == part {
				return true
			}
			return strings.EqualFold(fieldName, part)
		})
		if !field.IsValid() {
			return nil, fmt.Errorf("key part '%s' not found in key '%s'", part, key)
		}
		currentValue = field
	}
	if !currentValue.CanInterface() {
		return nil, fmt.Errorf("cannot get interface for key %s", key)
	}
	return currentValue.Interface(), nil
}
