package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Configuration keys, also used as JSON field names.
const (
	CfgJWTSecret  = "JWTSecret"
	CfgDBConnStr  = "DBConnStr"
	CfgTgToken    = "TgToken"
	CfgRedisAddr  = "RedisAddr"
	CfgKafkaTopic = "KafkaTopic"
)

// Environment variables overriding secrets from the file.
const (
	EnvConfigFile = "CONFIG_FILE"
	EnvJWTSecret  = "NOTEPUSH_JWT_SECRET"
	EnvDBConnStr  = "NOTEPUSH_DB_CONN_STR"
	EnvTgToken    = "NOTEPUSH_TG_TOKEN"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	LedgerRedis     = "redis"

	maxReconcileInterval = time.Minute
)

// Duration is a time.Duration written as "1m30s" or as a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return errors.Wrapf(err, "bad duration %q", val)
		}
		*d = Duration(parsed)
	default:
		return errors.Errorf("bad duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type Scheduler struct {
	Tick              Duration
	ReconcileInterval Duration
	DispatchTimeout   Duration
	SlotRetention     Duration

	// LateFireGrace is how late a slot may still be sent.
	LateFireGrace Duration
}

type Delivery struct {
	MaxAttempts    int
	BaseDelay      Duration
	MaxDelay       Duration
	AttemptTimeout Duration
	Parallelism    int
}

type RateLimit struct {
	PerSecond float64
	Burst     int
}

type Config struct {
	Production bool
	HTTPAddr   string
	JWTSecret  string

	// Storage is memory or postgres.
	Storage         string
	DBConnStr       string
	DBRetryAttempts int
	DBRetryDelay    Duration
	DBTimeout       Duration

	// Ledger is memory, postgres or redis. Empty means the same as Storage.
	Ledger      string
	RedisAddr   string
	RedisPrefix string

	// Provider is log, telegram or sns.
	Provider                  string
	TgToken                   string
	SNSRegion                 string
	SNSPlatformApplicationARN string

	// Note events are consumed when brokers are set.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	DefaultTimeZone string

	Scheduler Scheduler
	Delivery  Delivery
	RateLimit RateLimit
}

// Default returns the configuration used for fields missing from the file.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		Storage:         StorageMemory,
		DBRetryAttempts: 5,
		DBRetryDelay:    Duration(2 * time.Second),
		DBTimeout:       Duration(5 * time.Second),
		RedisPrefix:     "notepush",
		Provider:        "log",
		KafkaTopic:      "notes",
		KafkaGroupID:    "notepush",
		DefaultTimeZone: "UTC",
		Scheduler: Scheduler{
			Tick:              Duration(time.Second),
			ReconcileInterval: Duration(time.Minute),
			DispatchTimeout:   Duration(5 * time.Minute),
			SlotRetention:     Duration(48 * time.Hour),
			LateFireGrace:     Duration(time.Minute),
		},
		Delivery: Delivery{
			MaxAttempts:    5,
			BaseDelay:      Duration(500 * time.Millisecond),
			MaxDelay:       Duration(30 * time.Second),
			AttemptTimeout: Duration(10 * time.Second),
			Parallelism:    8,
		},
		RateLimit: RateLimit{PerSecond: 5, Burst: 10},
	}
}

// Load reads .env if present, the JSON file and the environment overrides, and
// validates the result. An empty cfgFile means the file named by CONFIG_FILE;
// without it only defaults and the environment are used.
func Load(cfgFile string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if cfgFile == "" {
		cfgFile = os.Getenv(EnvConfigFile)
	}

	cfg := Default()
	if cfgFile != "" {
		raw, err := os.ReadFile(cfgFile)
		if err != nil {
			return Config{}, errors.Wrapf(err, "couldn't read configuration from file %q", cfgFile)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "couldn't unmarshal configuration from file %q", cfgFile)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvJWTSecret); ok && v != "" {
		c.JWTSecret = v
	}
	if v, ok := lookup(EnvDBConnStr); ok && v != "" {
		c.DBConnStr = v
	}
	if v, ok := lookup(EnvTgToken); ok && v != "" {
		c.TgToken = v
	}
}

// LedgerKind resolves the empty ledger setting.
func (c Config) LedgerKind() string {
	if c.Ledger == "" {
		return c.Storage
	}
	return c.Ledger
}

// Validate makes sure that all required fields are present and reports all
// missing fields at once.
func (c Config) Validate() error {
	missingFields := []string{}
	if c.JWTSecret == "" {
		missingFields = append(missingFields, CfgJWTSecret)
	}

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DBConnStr == "" {
			missingFields = append(missingFields, CfgDBConnStr)
		}
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}

	switch c.LedgerKind() {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage != StoragePostgres {
			return errors.New("postgres slot ledger requires postgres storage")
		}
	case LedgerRedis:
		if c.RedisAddr == "" {
			missingFields = append(missingFields, CfgRedisAddr)
		}
	default:
		return errors.Errorf("unknown slot ledger %q", c.Ledger)
	}

	if c.Provider == "telegram" && c.TgToken == "" {
		missingFields = append(missingFields, CfgTgToken)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		missingFields = append(missingFields, CfgKafkaTopic)
	}

	if len(missingFields) > 0 {
		return errors.New(fmt.Sprintf("configuration is missing field(s): %s", strings.Join(missingFields, ", ")))
	}

	if c.Scheduler.ReconcileInterval.Std() > maxReconcileInterval {
		return errors.Errorf("reconcile interval %v exceeds %v", c.Scheduler.ReconcileInterval.Std(), maxReconcileInterval)
	}
	if _, err := time.LoadLocation(c.DefaultTimeZone); err != nil {
		return errors.Wrapf(err, "bad default time zone %q", c.DefaultTimeZone)
	}
	return nil
}
