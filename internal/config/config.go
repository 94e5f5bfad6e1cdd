package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API and worker processes.
// All values must come from env (or the file named by ENV_FILE).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Telephony TelephonyConfig
	IVR       IVRConfig
	Queue     QueueConfig
	Sweep     SweepConfig
	OTP       OTPConfig
}

type AppConfig struct {
	Env  string
	Port int
	// MetricsPort is where the worker serves /metrics and /healthz.
	MetricsPort int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	AutoMigrate bool
}

type RedisConfig struct {
	// URL (redis:// or rediss://) wins over Host/Port.
	URL  string
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TelephonyConfig struct {
	// Provider is exotel or twilio.
	Provider   string
	BaseURL    string
	AccountSID string
	APIKey     string
	APIToken   string
	CallerID   string
	Timeout    time.Duration

	// ValidateSignature enables X-Twilio-Signature checks on webhooks.
	ValidateSignature bool
	// PublicBaseURL is the externally reachable base of this API, used to
	// build callback URLs and to validate webhook signatures.
	PublicBaseURL string
}

type IVRConfig struct {
	Language      string
	PromptText    string
	AckText       string
	GatherTimeout int
	EagerDequeue  bool
}

type QueueConfig struct {
	Name              string
	Concurrency       int
	MaxAttempts       int
	BackoffBase       time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	MaxStalls         int
}

type SweepConfig struct {
	Schedule   string
	StaleAfter time.Duration
}

type OTPConfig struct {
	TTL         time.Duration
	Length      int
	MaxAttempts int
	SendLimit   int
	SendWindow  time.Duration
}

const (
	defaultPrompt = "Press 1 to cancel your order. Press 2 to confirm your order."
	defaultAck    = "Thank you. Your response has been recorded."
)

// Load reads the environment, first merging the dotenv file named by ENV_FILE
// when set. Variables already present in the environment win over the file.
func Load() (Config, error) {
	if f := strings.TrimSpace(os.Getenv("ENV_FILE")); f != "" {
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("ENV_FILE %q: %w", f, err)
		}
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = requiredInt("APP_PORT", &parseErrs)
	c.App.MetricsPort = optionalInt("METRICS_PORT", 9090, &parseErrs)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = requiredInt("DB_PORT", &parseErrs)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.AutoMigrate = optionalBool("DB_AUTO_MIGRATE", false, &parseErrs)

	c.Redis.URL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.URL == "" {
		c.Redis.Port = requiredInt("REDIS_PORT", &parseErrs)
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL", &parseErrs)
	c.Auth.RefreshTokenTTL = optionalDuration("JWT_REFRESH_TTL", &parseErrs)

	c.Telephony.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("TELEPHONY_PROVIDER")))
	c.Telephony.BaseURL = strings.TrimSpace(os.Getenv("TELEPHONY_BASE_URL"))
	c.Telephony.AccountSID = strings.TrimSpace(os.Getenv("TELEPHONY_ACCOUNT_SID"))
	c.Telephony.APIKey = strings.TrimSpace(os.Getenv("TELEPHONY_API_KEY"))
	c.Telephony.APIToken = os.Getenv("TELEPHONY_API_TOKEN")
	c.Telephony.CallerID = strings.TrimSpace(os.Getenv("TELEPHONY_CALLER_ID"))
	c.Telephony.Timeout = optionalDuration("TELEPHONY_TIMEOUT", &parseErrs)
	c.Telephony.ValidateSignature = optionalBool("TELEPHONY_VALIDATE_SIGNATURE", false, &parseErrs)
	c.Telephony.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.IVR.Language = strings.TrimSpace(os.Getenv("IVR_LANGUAGE"))
	c.IVR.PromptText = strings.TrimSpace(os.Getenv("IVR_PROMPT_TEXT"))
	c.IVR.AckText = strings.TrimSpace(os.Getenv("IVR_ACK_TEXT"))
	c.IVR.GatherTimeout = optionalInt("IVR_GATHER_TIMEOUT", 0, &parseErrs)
	c.IVR.EagerDequeue = optionalBool("IVR_EAGER_DEQUEUE", false, &parseErrs)

	c.Queue.Name = strings.TrimSpace(os.Getenv("QUEUE_NAME"))
	c.Queue.Concurrency = optionalInt("QUEUE_CONCURRENCY", 0, &parseErrs)
	c.Queue.MaxAttempts = optionalInt("QUEUE_MAX_ATTEMPTS", 0, &parseErrs)
	c.Queue.BackoffBase = optionalDuration("QUEUE_BACKOFF_BASE", &parseErrs)
	c.Queue.VisibilityTimeout = optionalDuration("QUEUE_VISIBILITY_TIMEOUT", &parseErrs)
	c.Queue.PollInterval = optionalDuration("QUEUE_POLL_INTERVAL", &parseErrs)
	c.Queue.MaxStalls = optionalInt("QUEUE_MAX_STALLS", 0, &parseErrs)

	c.Sweep.Schedule = strings.TrimSpace(os.Getenv("SWEEP_SCHEDULE"))
	c.Sweep.StaleAfter = optionalDuration("SWEEP_STALE_AFTER", &parseErrs)

	c.OTP.TTL = optionalDuration("OTP_TTL", &parseErrs)
	c.OTP.Length = optionalInt("OTP_LENGTH", 0, &parseErrs)
	c.OTP.MaxAttempts = optionalInt("OTP_MAX_ATTEMPTS", 0, &parseErrs)
	c.OTP.SendLimit = optionalInt("OTP_SEND_LIMIT", 0, &parseErrs)
	c.OTP.SendWindow = optionalDuration("OTP_SEND_WINDOW", &parseErrs)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.MetricsPort == 0 {
		c.App.MetricsPort = 9090
	}
	if c.App.MetricsPort < 0 || c.App.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("METRICS_PORT must be a valid port, got %d", c.App.MetricsPort))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.URL == "" {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_URL or REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	} else if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		errs = append(errs, errors.New("REDIS_URL must start with redis:// or rediss://"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateTelephony()...)
	errs = append(errs, c.validateQueue()...)

	if c.IVR.PromptText == "" {
		c.IVR.PromptText = defaultPrompt
	}
	if c.IVR.AckText == "" {
		c.IVR.AckText = defaultAck
	}
	if c.IVR.Language == "" {
		c.IVR.Language = "en-IN"
	}
	if c.IVR.GatherTimeout < 0 || c.IVR.GatherTimeout > 60 {
		errs = append(errs, fmt.Errorf("IVR_GATHER_TIMEOUT must be between 0 and 60 seconds, got %d", c.IVR.GatherTimeout))
	}

	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "@every 5m"
	}
	if c.Sweep.StaleAfter <= 0 {
		c.Sweep.StaleAfter = 15 * time.Minute
	}
	// the sweep must not fail an error record whose job still has retries queued
	if c.Queue.MaxAttempts <= maxQueueAttempts {
		if w := c.Queue.RetryWindow(); c.Sweep.StaleAfter <= w {
			errs = append(errs, fmt.Errorf("SWEEP_STALE_AFTER (%s) must exceed the queue retry window (%s)", c.Sweep.StaleAfter, w))
		}
	}

	if c.OTP.TTL <= 0 {
		c.OTP.TTL = 5 * time.Minute
	}
	if c.OTP.Length == 0 {
		c.OTP.Length = 6
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		errs = append(errs, fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTP.Length))
	}
	if c.OTP.MaxAttempts <= 0 {
		c.OTP.MaxAttempts = 5
	}
	if c.OTP.SendLimit <= 0 {
		c.OTP.SendLimit = 3
	}
	if c.OTP.SendWindow <= 0 {
		c.OTP.SendWindow = 5 * time.Minute
	}

	return joinErrors(errs)
}

func (c *Config) validateTelephony() []error {
	var errs []error
	t := &c.Telephony
	if t.Provider == "" {
		t.Provider = "exotel"
	}
	if t.Provider != "exotel" && t.Provider != "twilio" {
		errs = append(errs, fmt.Errorf("TELEPHONY_PROVIDER must be exotel or twilio, got %q", t.Provider))
	}
	if t.Timeout <= 0 {
		t.Timeout = 15 * time.Second
	}
	if t.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(t.PublicBaseURL, "http://") && !strings.HasPrefix(t.PublicBaseURL, "https://") {
		errs = append(errs, errors.New("PUBLIC_BASE_URL must be an http(s) URL"))
	}
	if c.IsProduction() {
		if t.AccountSID == "" {
			errs = append(errs, errors.New("TELEPHONY_ACCOUNT_SID is required in production"))
		}
		if t.APIToken == "" {
			errs = append(errs, errors.New("TELEPHONY_API_TOKEN is required in production"))
		}
		if t.CallerID == "" {
			errs = append(errs, errors.New("TELEPHONY_CALLER_ID is required in production"))
		}
	}
	if t.ValidateSignature && t.Provider != "twilio" {
		errs = append(errs, errors.New("TELEPHONY_VALIDATE_SIGNATURE is only supported for the twilio provider"))
	}
	return errs
}

func (c *Config) validateQueue() []error {
	var errs []error
	q := &c.Queue
	if q.Name == "" {
		q.Name = "ivr-calls"
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 5
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 4
	}
	if q.BackoffBase <= 0 {
		q.BackoffBase = 10 * time.Second
	}
	if q.VisibilityTimeout <= 0 {
		q.VisibilityTimeout = 60 * time.Second
	}
	if q.PollInterval <= 0 {
		q.PollInterval = time.Second
	}
	if q.MaxStalls <= 0 {
		q.MaxStalls = 1
	}
	if q.MaxAttempts > maxQueueAttempts {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at most %d, got %d", maxQueueAttempts, q.MaxAttempts))
	}
	// a lease shorter than one dial would redeliver jobs that are still running
	if q.VisibilityTimeout <= c.Telephony.Timeout {
		errs = append(errs, fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must exceed TELEPHONY_TIMEOUT (%s)", q.VisibilityTimeout, c.Telephony.Timeout))
	}
	return errs
}

// maxQueueAttempts keeps the exponential backoff sum within a Duration.
const maxQueueAttempts = 20

// RetryWindow bounds how long a job can keep retrying: every backoff
// (base * 2^(n-1)) plus one lease.
func (q QueueConfig) RetryWindow() time.Duration {
	return q.BackoffBase*time.Duration(1<<q.MaxAttempts-1) + q.VisibilityTimeout
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.App.MetricsPort)
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

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// CallbackURL is where the provider fetches the voice menu for a placed call.
func (c Config) CallbackURL() string {
	return c.Telephony.PublicBaseURL + "/telephony/start"
}

// WebhookURL is where the voice menu posts the keypress.
func (c Config) WebhookURL() string {
	return c.Telephony.PublicBaseURL + "/telephony/webhook"
}

func requiredInt(key string, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*errs = append(*errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func optionalBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

// optionalDuration returns 0 when unset so Validate can apply defaults.
func optionalDuration(key string, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration like 30s or 5m, got %q", key, v))
		return 0
	}
	return d
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
