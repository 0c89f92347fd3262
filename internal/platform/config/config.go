package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	platformstrings "fundops/pkg/platform/strings"
)

// Environment is the deployment environment. It is read once at boot and
// decides which development conveniences may be switched on.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ParseEnvironment validates an environment name. Empty defaults to development.
func ParseEnvironment(s string) (Environment, error) {
	switch e := Environment(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EnvDevelopment, nil
	case EnvDevelopment, EnvTest, EnvStaging, EnvProduction:
		return e, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

// IsProduction reports whether credentials must be verified tokens only.
func (e Environment) IsProduction() bool { return e == EnvProduction }

// AllowsAuthorizationBypass reports whether the role-check bypass may be enabled.
func (e Environment) AllowsAuthorizationBypass() bool {
	return e == EnvDevelopment || e == EnvTest
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	// AdminToken guards the /ops endpoints. Empty leaves them unmounted.
	AdminToken string
}

// Database configures the PostgreSQL connection. An empty URL selects the
// in-memory backend.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
}

// RedisConfig configures the Redis client used for scheduler leases.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit outbox relay.
type Kafka struct {
	Brokers       []string
	AuditTopic    string
	RelayInterval time.Duration
	RelayBatch    int
}

// Auth configures identity resolution and the access guard.
type Auth struct {
	Issuer           string
	Audience         string
	HMACKeys         map[string]string
	RSAPublicKeyFile string
	// TrustedHeader names the header carrying a structured actor payload.
	// Only honoured outside production.
	TrustedHeader string
	// BypassAuthorization disables role checks. Never valid in staging or production.
	BypassAuthorization bool
}

// SeverityThreshold maps a minimum number of days overdue to a severity name.
type SeverityThreshold struct {
	MinDaysOverdue int
	Severity       string
}

// Alerts configures overdue-obligation scanning.
type Alerts struct {
	SeverityThresholds []SeverityThreshold
	ScanInterval       time.Duration
}

// Blob configures the local evidence blob store.
type Blob struct {
	Root string
}

// Scope configures partition visibility. An empty PolicyFile uses the
// built-in policy.
type Scope struct {
	PolicyFile string
}

// Config is the full process configuration.
type Config struct {
	Env      Environment
	Server   Server
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Auth     Auth
	Alerts   Alerts
	Blob     Blob
	Scope    Scope
}

// DefaultSeverityThresholds escalate LOW → CRITICAL as an obligation ages.
var DefaultSeverityThresholds = []SeverityThreshold{
	{MinDaysOverdue: 0, Severity: "LOW"},
	{MinDaysOverdue: 7, Severity: "MEDIUM"},
	{MinDaysOverdue: 30, Severity: "HIGH"},
	{MinDaysOverdue: 90, Severity: "CRITICAL"},
}

const minAdminTokenLen = 24

var severityRank = map[string]int{"LOW": 1, "MEDIUM": 2, "HIGH": 3, "CRITICAL": 4}

// FromEnv builds a Config from environment variables so main stays lean.
// The result still has to pass Validate before use.
func FromEnv() (Config, error) {
	env, err := ParseEnvironment(os.Getenv("FUNDOPS_ENV"))
	if err != nil {
		return Config{}, err
	}

	thresholds := DefaultSeverityThresholds
	if raw := os.Getenv("ALERT_SEVERITY_THRESHOLDS"); raw != "" {
		thresholds, err = ParseSeverityThresholds(raw)
		if err != nil {
			return Config{}, err
		}
	}

	hmacKeys, err := parseKeyList(os.Getenv("AUTH_HMAC_KEYS"))
	if err != nil {
		return Config{}, err
	}

	trustedHeader := os.Getenv("AUTH_TRUSTED_HEADER")
	if trustedHeader == "" && !env.IsProduction() {
		trustedHeader = "X-Fundops-Actor"
	}

	cfg := Config{
		Env: env,
		Server: Server{
			Addr:            envOr("FUNDOPS_ADDR", ":8080"),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  envDuration("REQUEST_TIMEOUT", 30*time.Second),
			AdminToken:      os.Getenv("FUNDOPS_ADMIN_TOKEN"),
		},
		Database: Database{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			TxTimeout:       envDuration("DATABASE_TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 1),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:       platformstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:    envOr("AUDIT_TOPIC", "fundops.audit.events"),
			RelayInterval: envDuration("AUDIT_RELAY_INTERVAL", 2*time.Second),
			RelayBatch:    envInt("AUDIT_RELAY_BATCH", 100),
		},
		Auth: Auth{
			Issuer:              os.Getenv("AUTH_ISSUER"),
			Audience:            os.Getenv("AUTH_AUDIENCE"),
			HMACKeys:            hmacKeys,
			RSAPublicKeyFile:    os.Getenv("AUTH_RSA_PUBLIC_KEY_FILE"),
			TrustedHeader:       trustedHeader,
			BypassAuthorization: os.Getenv("AUTHZ_BYPASS") == "true",
		},
		Alerts: Alerts{
			SeverityThresholds: thresholds,
			ScanInterval:       envDuration("SCAN_INTERVAL", 15*time.Minute),
		},
		Blob: Blob{
			Root: envOr("BLOB_ROOT", "./data/blobs"),
		},
		Scope: Scope{
			PolicyFile: os.Getenv("SCOPE_POLICY_FILE"),
		},
	}
	return cfg, nil
}

// Validate enforces the boot-time invariants. A config that fails validation
// must stop the process.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.BypassAuthorization && !c.Env.AllowsAuthorizationBypass() {
		errs = append(errs, fmt.Errorf("AUTHZ_BYPASS is not permitted in %s", c.Env))
	}
	if c.Env.IsProduction() {
		if c.Auth.TrustedHeader != "" {
			errs = append(errs, errors.New("trusted actor header must not be configured in production"))
		}
		if c.Auth.Issuer == "" || c.Auth.Audience == "" {
			errs = append(errs, errors.New("AUTH_ISSUER and AUTH_AUDIENCE are required in production"))
		}
		if len(c.Auth.HMACKeys) == 0 && c.Auth.RSAPublicKeyFile == "" {
			errs = append(errs, errors.New("a token verification key set is required in production"))
		}
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
	}
	if c.Server.AdminToken != "" && len(c.Server.AdminToken) < minAdminTokenLen {
		errs = append(errs, fmt.Errorf("FUNDOPS_ADMIN_TOKEN must be at least %d characters", minAdminTokenLen))
	}
	if err := validateThresholds(c.Alerts.SeverityThresholds); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseSeverityThresholds parses "0:LOW,7:MEDIUM,30:HIGH,90:CRITICAL".
func ParseSeverityThresholds(raw string) ([]SeverityThreshold, error) {
	var out []SeverityThreshold
	for _, part := range platformstrings.SplitList(raw) {
		days, severity, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid severity threshold %q", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil {
			return nil, fmt.Errorf("invalid severity threshold %q: %w", part, err)
		}
		out = append(out, SeverityThreshold{
			MinDaysOverdue: n,
			Severity:       strings.ToUpper(strings.TrimSpace(severity)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinDaysOverdue < out[j].MinDaysOverdue })
	return out, validateThresholds(out)
}

// validateThresholds requires ascending day bounds starting at zero and
// severities that never decrease as days grow.
func validateThresholds(thresholds []SeverityThreshold) error {
	if len(thresholds) == 0 {
		return errors.New("at least one alert severity threshold is required")
	}
	if thresholds[0].MinDaysOverdue != 0 {
		return errors.New("first alert severity threshold must start at 0 days")
	}
	prevRank := 0
	for i, th := range thresholds {
		rank, ok := severityRank[th.Severity]
		if !ok {
			return fmt.Errorf("unknown alert severity %q", th.Severity)
		}
		if i > 0 && th.MinDaysOverdue <= thresholds[i-1].MinDaysOverdue {
			return errors.New("alert severity thresholds must be strictly ascending")
		}
		if rank < prevRank {
			return errors.New("alert severity must not decrease as days overdue grow")
		}
		prevRank = rank
	}
	return nil
}

func parseKeyList(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, part := range platformstrings.SplitList(raw) {
		kid, secret, ok := strings.Cut(part, ":")
		if !ok || kid == "" || secret == "" {
			return nil, errors.New("AUTH_HMAC_KEYS entries must be kid:secret")
		}
		keys[kid] = secret
	}
	return keys, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
