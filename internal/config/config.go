package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from the environment; no business logic reads env directly.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Dial     DialConfig
	Followup FollowupConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full.
	SSLMode string
}

// RedisConfig is optional; without a host the per-workspace dial cap is off.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// APIBaseURL is overridable for tests and regional edges.
	APIBaseURL string
	// PublicBaseURL is where Twilio reaches our webhooks; it is also the URL
	// prefix used when verifying webhook signatures.
	PublicBaseURL string
}

type DialConfig struct {
	WorkspaceConcurrency int
	CapTTL               time.Duration
}

type FollowupConfig struct {
	LookbackDays   int
	StaleQuoteDays int
	DefaultLimit   int

	// AdvisorURL points at the channel-suggestion service; empty disables it.
	AdvisorURL         string
	AdvisorTimeout     time.Duration
	AdvisorConcurrency int
}

type MetricsConfig struct {
	Enabled bool
}

// envKeys maps viper keys to environment variable names.
var envKeys = map[string]string{
	"app.env":                   "APP_ENV",
	"app.port":                  "APP_PORT",
	"db.host":                   "DB_HOST",
	"db.port":                   "DB_PORT",
	"db.user":                   "DB_USER",
	"db.password":               "DB_PASSWORD",
	"db.name":                   "DB_NAME",
	"db.sslmode":                "DB_SSLMODE",
	"redis.host":                "REDIS_HOST",
	"redis.port":                "REDIS_PORT",
	"auth.jwtsecret":            "JWT_SECRET",
	"auth.jwtissuer":            "JWT_ISSUER",
	"auth.jwtaudience":          "JWT_AUDIENCE",
	"auth.accessttl":            "JWT_ACCESS_TTL",
	"twilio.accountsid":         "TWILIO_ACCOUNT_SID",
	"twilio.authtoken":          "TWILIO_AUTH_TOKEN",
	"twilio.apibaseurl":         "TWILIO_API_BASE_URL",
	"twilio.publicbaseurl":      "PUBLIC_BASE_URL",
	"dial.workspaceconcurrency": "DIAL_WORKSPACE_CONCURRENCY",
	"dial.capttl":               "DIAL_CAP_TTL",
	"followup.lookbackdays":     "FOLLOWUP_LOOKBACK_DAYS",
	"followup.stalequotedays":   "FOLLOWUP_STALE_QUOTE_DAYS",
	"followup.defaultlimit":     "FOLLOWUP_DEFAULT_LIMIT",
	"followup.advisorurl":       "FOLLOWUP_ADVISOR_URL",
	"followup.advisortimeout":   "FOLLOWUP_ADVISOR_TIMEOUT",
	"followup.advisorworkers":   "FOLLOWUP_ADVISOR_CONCURRENCY",
	"metrics.enabled":           "METRICS_ENABLED",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("app.port", 8080)
	v.SetDefault("db.port", 5432)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("auth.accessttl", 15*time.Minute)
	v.SetDefault("twilio.apibaseurl", "https://api.twilio.com")
	v.SetDefault("dial.workspaceconcurrency", 10)
	v.SetDefault("dial.capttl", 2*time.Minute)
	v.SetDefault("followup.lookbackdays", 30)
	v.SetDefault("followup.stalequotedays", 7)
	v.SetDefault("followup.defaultlimit", 50)
	v.SetDefault("followup.advisortimeout", 5*time.Second)
	v.SetDefault("followup.advisorworkers", 4)
	v.SetDefault("metrics.enabled", true)
	for key, env := range envKeys {
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load reads the environment, applies defaults and validates.
func Load() (Config, error) {
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) (Config, error) {
	var c Config

	c.App.Env = strings.TrimSpace(v.GetString("app.env"))
	c.App.Port = v.GetInt("app.port")

	c.DB.Host = strings.TrimSpace(v.GetString("db.host"))
	c.DB.Port = v.GetInt("db.port")
	c.DB.User = strings.TrimSpace(v.GetString("db.user"))
	c.DB.Password = v.GetString("db.password")
	c.DB.Name = strings.TrimSpace(v.GetString("db.name"))
	c.DB.SSLMode = strings.TrimSpace(v.GetString("db.sslmode"))

	c.Redis.Host = strings.TrimSpace(v.GetString("redis.host"))
	c.Redis.Port = v.GetInt("redis.port")

	c.Auth.JWTSecret = v.GetString("auth.jwtsecret")
	c.Auth.JWTIssuer = strings.TrimSpace(v.GetString("auth.jwtissuer"))
	c.Auth.JWTAudience = strings.TrimSpace(v.GetString("auth.jwtaudience"))
	c.Auth.AccessTokenTTL = v.GetDuration("auth.accessttl")

	c.Twilio.AccountSID = strings.TrimSpace(v.GetString("twilio.accountsid"))
	c.Twilio.AuthToken = v.GetString("twilio.authtoken")
	c.Twilio.APIBaseURL = strings.TrimRight(strings.TrimSpace(v.GetString("twilio.apibaseurl")), "/")
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(v.GetString("twilio.publicbaseurl")), "/")

	c.Dial.WorkspaceConcurrency = v.GetInt("dial.workspaceconcurrency")
	c.Dial.CapTTL = v.GetDuration("dial.capttl")

	c.Followup.LookbackDays = v.GetInt("followup.lookbackdays")
	c.Followup.StaleQuoteDays = v.GetInt("followup.stalequotedays")
	c.Followup.DefaultLimit = v.GetInt("followup.defaultlimit")
	c.Followup.AdvisorURL = strings.TrimSpace(v.GetString("followup.advisorurl"))
	c.Followup.AdvisorTimeout = v.GetDuration("followup.advisortimeout")
	c.Followup.AdvisorConcurrency = v.GetInt("followup.advisorworkers")

	c.Metrics.Enabled = v.GetBool("metrics.enabled")

	if c.DB.SSLMode == "" && !c.IsProduction() {
		// local-friendly default; production must be explicit
		c.DB.SSLMode = "disable"
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !isValidPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if !isValidPort(c.DB.Port) {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	switch {
	case c.DB.SSLMode == "":
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	case !isValidSSLMode(c.DB.SSLMode):
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && !isValidPort(c.Redis.Port) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL must be positive"))
	}

	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required in production"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
	}

	if c.Dial.WorkspaceConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("DIAL_WORKSPACE_CONCURRENCY must be > 0, got %d", c.Dial.WorkspaceConcurrency))
	}
	if c.Dial.CapTTL <= 0 {
		errs = append(errs, errors.New("DIAL_CAP_TTL must be positive"))
	}
	if c.Followup.LookbackDays <= 0 {
		errs = append(errs, fmt.Errorf("FOLLOWUP_LOOKBACK_DAYS must be > 0, got %d", c.Followup.LookbackDays))
	}
	if c.Followup.StaleQuoteDays < 0 {
		errs = append(errs, fmt.Errorf("FOLLOWUP_STALE_QUOTE_DAYS must be >= 0, got %d", c.Followup.StaleQuoteDays))
	}
	if c.Followup.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("FOLLOWUP_DEFAULT_LIMIT must be > 0, got %d", c.Followup.DefaultLimit))
	}
	if c.Followup.AdvisorURL != "" && c.Followup.AdvisorConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("FOLLOWUP_ADVISOR_CONCURRENCY must be > 0, got %d", c.Followup.AdvisorConcurrency))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidPort(p int) bool {
	return p > 0 && p <= 65535
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
