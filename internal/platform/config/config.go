// Package config loads the steward process configuration: built-in defaults,
// then an optional YAML file, then STEWARD_* environment variables. The
// result is validated before anything is wired.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at the YAML overlay.
const FileEnv = "STEWARD_CONFIG"

type Config struct {
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
	Vault   Vault   `yaml:"vault"`
	Access  Access  `yaml:"access"`
	HOTP    HOTP    `yaml:"hotp"`
	Session Session `yaml:"session"`
	Ledger  Ledger  `yaml:"ledger"`
	Redis   Redis   `yaml:"redis"`
	Kafka   Kafka   `yaml:"kafka"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

type Vault struct {
	Path string `yaml:"path" validate:"required"`
	// MasterSecret and MasterOverride are only read from the environment.
	MasterSecret   string `yaml:"-" validate:"required"`
	MasterOverride string `yaml:"-"`
	LegacySalt     bool   `yaml:"legacy_salt"`
	// Sink selects where SyncToExternalStore writes: "" disables sync.
	Sink string `yaml:"sink" validate:"omitempty,oneof=redis memory"`
}

type Access struct {
	Authority string          `yaml:"authority" validate:"required"`
	TokenTTL  time.Duration   `yaml:"token_ttl" validate:"gt=0"`
	Users     map[string]User `yaml:"users" validate:"dive"`
}

// User is one row of the role table.
type User struct {
	Role         string   `yaml:"role" validate:"required"`
	Permissions  []string `yaml:"permissions" validate:"dive,oneof=read_all read_limited write_all write_limited admin killswitch"`
	Allow        []string `yaml:"allow"`
	Deny         []string `yaml:"deny"`
	Factors      []string `yaml:"factors" validate:"min=1,dive,oneof=password otp"`
	PasswordHash string   `yaml:"password_hash"`
}

type HOTP struct {
	// Subject is the user the hardware credentials belong to.
	Subject     string       `yaml:"subject"`
	Window      int          `yaml:"window" validate:"min=1,max=100"`
	Digits      int          `yaml:"digits" validate:"min=6,max=8"`
	Counter     string       `yaml:"counter" validate:"oneof=memory file redis"`
	CounterPath string       `yaml:"counter_path" validate:"required_if=Counter file"`
	Credentials []Credential `yaml:"credentials" validate:"max=3,dive"`
}

// Credential is a hardware token secret, hex encoded. The first entry is the
// primary; the rest are backups in fallback order.
type Credential struct {
	ID        string `yaml:"id" validate:"required"`
	SecretHex string `yaml:"secret_hex" validate:"required,hexadecimal"`
}

type Session struct {
	SigningKey      string        `yaml:"-" validate:"min=32"`
	Lifetime        time.Duration `yaml:"lifetime" validate:"gt=0"`
	RevalidateAfter time.Duration `yaml:"revalidate_after" validate:"gt=0"`
	OTPRequired     []string      `yaml:"otp_required"`
}

type Ledger struct {
	Tamper     string   `yaml:"tamper" validate:"oneof=memory postgres badger"`
	TamperDSNs []string `yaml:"tamper_dsns" validate:"required_if=Tamper postgres"`
	BadgerDir  string   `yaml:"badger_dir"`

	EventLog     string `yaml:"event_log" validate:"oneof=memory jetstream"`
	NATSURL      string `yaml:"nats_url" validate:"required_if=EventLog jetstream"`
	Stream       string `yaml:"stream" validate:"required"`
	StreamPrefix string `yaml:"stream_prefix" validate:"required"`

	Mirror    string `yaml:"mirror" validate:"oneof=memory postgres"`
	MirrorDSN string `yaml:"mirror_dsn" validate:"required_if=Mirror postgres"`

	Retries       int           `yaml:"retries" validate:"min=0,max=10"`
	RetryDelay    time.Duration `yaml:"retry_delay" validate:"gte=0"`
	CallTimeout   time.Duration `yaml:"call_timeout" validate:"gt=0"`
	VerifyOnWrite bool          `yaml:"verify_on_write"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
	SampleSize    int           `yaml:"sample_size" validate:"min=0"`
}

// Redis is shared by the HOTP counter store and the sync sink.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size" validate:"min=0"`
	MinIdleConns int           `yaml:"min_idle_conns" validate:"min=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Kafka carries the audit stream. No brokers keeps audit in memory only.
type Kafka struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic" validate:"required_with=Brokers"`
	ClientID   string   `yaml:"client_id"`
	Partitions int32    `yaml:"partitions" validate:"min=0"`
	Replicas   int16    `yaml:"replicas" validate:"min=0"`
}

// Default returns a config that runs every backend in memory.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: Log{Level: "info", Format: "json"},
		Vault: Vault{
			Path: "data/vault.enc",
		},
		Access: Access{
			Authority: "authority",
			TokenTTL:  30 * time.Minute,
		},
		HOTP: HOTP{
			Window:  20,
			Digits:  6,
			Counter: "memory",
		},
		Session: Session{
			Lifetime:        14 * 24 * time.Hour,
			RevalidateAfter: 15 * time.Minute,
		},
		Ledger: Ledger{
			Tamper:        "memory",
			EventLog:      "memory",
			Mirror:        "memory",
			Stream:        "STEWARD_RECORDS",
			StreamPrefix:  "steward.record",
			Retries:       3,
			RetryDelay:    500 * time.Millisecond,
			CallTimeout:   5 * time.Second,
			SweepInterval: 10 * time.Minute,
			SampleSize:    20,
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Topic:      "steward.audit",
			ClientID:   "steward",
			Partitions: 1,
			Replicas:   1,
		},
	}
}

// Load builds the config from defaults, the file at path (or $STEWARD_CONFIG
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}
	e.str("STEWARD_ADDR", &c.Server.Addr)
	e.str("STEWARD_LOG_LEVEL", &c.Log.Level)
	e.str("STEWARD_LOG_FORMAT", &c.Log.Format)

	e.str("STEWARD_VAULT_PATH", &c.Vault.Path)
	e.str("STEWARD_VAULT_MASTER_SECRET", &c.Vault.MasterSecret)
	e.str("STEWARD_VAULT_MASTER_OVERRIDE", &c.Vault.MasterOverride)
	e.boolean("STEWARD_VAULT_LEGACY_SALT", &c.Vault.LegacySalt)
	e.str("STEWARD_VAULT_SINK", &c.Vault.Sink)

	e.str("STEWARD_AUTHORITY", &c.Access.Authority)
	e.duration("STEWARD_TOKEN_TTL", &c.Access.TokenTTL)

	e.str("STEWARD_HOTP_COUNTER", &c.HOTP.Counter)
	e.str("STEWARD_HOTP_COUNTER_PATH", &c.HOTP.CounterPath)

	e.str("STEWARD_SESSION_SIGNING_KEY", &c.Session.SigningKey)
	e.duration("STEWARD_SESSION_LIFETIME", &c.Session.Lifetime)

	e.str("STEWARD_LEDGER_TAMPER", &c.Ledger.Tamper)
	e.list("STEWARD_LEDGER_TAMPER_DSNS", &c.Ledger.TamperDSNs)
	e.str("STEWARD_LEDGER_BADGER_DIR", &c.Ledger.BadgerDir)
	e.str("STEWARD_LEDGER_EVENT_LOG", &c.Ledger.EventLog)
	e.str("STEWARD_NATS_URL", &c.Ledger.NATSURL)
	e.str("STEWARD_LEDGER_MIRROR", &c.Ledger.Mirror)
	e.str("STEWARD_LEDGER_MIRROR_DSN", &c.Ledger.MirrorDSN)
	e.boolean("STEWARD_LEDGER_VERIFY_ON_WRITE", &c.Ledger.VerifyOnWrite)
	e.duration("STEWARD_LEDGER_SWEEP_INTERVAL", &c.Ledger.SweepInterval)

	e.str("STEWARD_REDIS_URL", &c.Redis.URL)
	e.list("STEWARD_KAFKA_BROKERS", &c.Kafka.Brokers)
	e.str("STEWARD_KAFKA_TOPIC", &c.Kafka.Topic)
	return e.err
}

// Validate checks struct tags plus the cross-section rules tags cannot say.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			msgs := make([]string, 0, len(ves))
			for _, fe := range ves {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.HOTP.Counter == "redis" && c.Redis.URL == "" {
		return errors.New("invalid config: hotp.counter redis requires redis.url")
	}
	if c.Vault.Sink == "redis" && c.Redis.URL == "" {
		return errors.New("invalid config: vault.sink redis requires redis.url")
	}
	for id, u := range c.Access.Users {
		for _, f := range u.Factors {
			if f == "password" && u.PasswordHash == "" {
				return fmt.Errorf("invalid config: user %s lists password factor without password_hash", id)
			}
			if f == "otp" && id != c.HOTPSubject() {
				return fmt.Errorf("invalid config: user %s lists otp factor but hotp credentials belong to %s", id, c.HOTPSubject())
			}
		}
	}
	return nil
}

// HOTPSubject is the user the hardware credentials authenticate, defaulting to
// the Authority.
func (c *Config) HOTPSubject() string {
	if c.HOTP.Subject != "" {
		return c.HOTP.Subject
	}
	return c.Access.Authority
}

type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok || e.err != nil {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || e.err != nil {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}
