package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
)

// Defaults applied when the matching environment variable is unset or invalid.
const (
	DefaultHTTPAddr            = ":8080"
	DefaultFanOut              = 3
	DefaultQuorum              = 2
	DefaultSLA                 = 72 * time.Hour
	DefaultBlockThreshold      = 3
	DefaultVoteTxTimeout       = 5 * time.Second
	DefaultQueryTimeout        = 10 * time.Second
	DefaultReadRetryBase       = 50 * time.Millisecond
	DefaultReadRetryMaxAttempt = 4
	DefaultJobInterval         = time.Hour
	DefaultScanInterval        = 24 * time.Hour
	DefaultMonitorRefresh      = 5 * time.Second
)

// Validation holds the rules of the peer-validation engine.
type Validation struct {
	FanOut         int           // K: ring neighbours each validator reviews
	Quorum         int           // Q: same-direction votes that finalize a submission
	SLA            time.Duration // window after creation in which a vote counts as on time
	BlockThreshold int           // missed votes in a period that mark a validator blocked
}

type Config struct {
	DBDialect string // postgres only
	DBDsn     string // DSN string passed to GORM driver
	HTTPAddr  string
	Debug     bool

	Validation Validation

	VoteTxTimeout       time.Duration
	QueryTimeout        time.Duration
	ReadRetryBase       time.Duration
	ReadRetryMaxAttempt int

	JobInterval    time.Duration
	ScanInterval   time.Duration
	MonitorRefresh time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %d\n", key, v, def)
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func Load() Config {
	cfg := Config{
		HTTPAddr: getenv("HTTP_ADDR", DefaultHTTPAddr),
		Debug:    getenvBool("DEBUG", false),
		Validation: Validation{
			FanOut:         getenvInt("VALIDATION_FAN_OUT", DefaultFanOut),
			Quorum:         getenvInt("VALIDATION_QUORUM", DefaultQuorum),
			SLA:            getenvDuration("VALIDATION_SLA", DefaultSLA),
			BlockThreshold: getenvInt("VALIDATION_BLOCK_THRESHOLD", DefaultBlockThreshold),
		},
		VoteTxTimeout:       getenvDuration("VOTE_TX_TIMEOUT", DefaultVoteTxTimeout),
		QueryTimeout:        getenvDuration("QUERY_TIMEOUT", DefaultQueryTimeout),
		ReadRetryBase:       getenvDuration("READ_RETRY_BASE", DefaultReadRetryBase),
		ReadRetryMaxAttempt: getenvInt("READ_RETRY_MAX_ATTEMPTS", DefaultReadRetryMaxAttempt),
		JobInterval:         getenvDuration("JOB_INTERVAL", DefaultJobInterval),
		ScanInterval:        getenvDuration("SCAN_INTERVAL", DefaultScanInterval),
		MonitorRefresh:      getenvDuration("MONITOR_REFRESH", DefaultMonitorRefresh),
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg
}

// Validate rejects rule values the engine cannot work with.
func (c Config) Validate() error {
	v := c.Validation
	switch {
	case v.FanOut < 1:
		return fmt.Errorf("config: VALIDATION_FAN_OUT must be >= 1, got %d", v.FanOut)
	case v.Quorum < 1:
		return fmt.Errorf("config: VALIDATION_QUORUM must be >= 1, got %d", v.Quorum)
	case v.SLA <= 0:
		return fmt.Errorf("config: VALIDATION_SLA must be positive, got %s", v.SLA)
	case v.BlockThreshold < 1:
		return fmt.Errorf("config: VALIDATION_BLOCK_THRESHOLD must be >= 1, got %d", v.BlockThreshold)
	case c.JobInterval <= 0 || c.ScanInterval <= 0:
		return fmt.Errorf("config: JOB_INTERVAL and SCAN_INTERVAL must be positive")
	}
	return nil
}

// Persistent reports whether a database is configured.
func (c Config) Persistent() bool {
	return c.DBDialect != "" && c.DBDsn != ""
}

func (c Config) String() string {
	return fmt.Sprintf("http=%s db=%s k=%d q=%d", c.HTTPAddr, c.DBDialect, c.Validation.FanOut, c.Validation.Quorum)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"http=%s db=%s dsn=%s fan_out=%d quorum=%d sla=%s block_threshold=%d job_interval=%s scan_interval=%s",
		c.HTTPAddr,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.Validation.FanOut,
		c.Validation.Quorum,
		c.Validation.SLA,
		c.Validation.BlockThreshold,
		c.JobInterval,
		c.ScanInterval,
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
