package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Scylla        ScyllaConfig        `mapstructure:"scylla"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	BusinessHours BusinessHoursConfig `mapstructure:"business_hours"`
	Recipients    RecipientsConfig    `mapstructure:"recipients"`
	Relay         RelayConfig         `mapstructure:"relay"`
	DirectDial    DirectDialConfig    `mapstructure:"direct_dial"`
	Integration   IntegrationConfig   `mapstructure:"integration"`
	Progress      ProgressConfig      `mapstructure:"progress"`
	Webhooks      WebhooksConfig      `mapstructure:"webhooks"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers          []string      `mapstructure:"brokers"`
	ClientID         string        `mapstructure:"client_id"`
	DialTopic        string        `mapstructure:"dial_topic"`
	StatusTopic      string        `mapstructure:"status_topic"`
	DialerGroupID    string        `mapstructure:"dialer_group_id"`
	StatusGroupID    string        `mapstructure:"status_group_id"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
	TopicPartitions  int           `mapstructure:"topic_partitions"`
	TopicReplication int           `mapstructure:"topic_replication"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceVersion  string        `mapstructure:"service_version"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SchedulerConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	MaxBatchSize   int           `mapstructure:"max_batch_size"`
	AbandonedAfter time.Duration `mapstructure:"abandoned_after"`
	StuckCallAge   time.Duration `mapstructure:"stuck_call_age"`
	LeaderLockTTL  time.Duration `mapstructure:"leader_lock_ttl"`
	DialerLeaseTTL time.Duration `mapstructure:"dialer_lease_ttl"`
	LockKeyPrefix  string        `mapstructure:"lock_key_prefix"`
}

type BusinessHoursConfig struct {
	FailClosed bool `mapstructure:"fail_closed"`
}

type RecipientsConfig struct {
	MaxImportBatch int    `mapstructure:"max_import_batch"`
	DefaultRegion  string `mapstructure:"default_region"`
}

type RelayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BatchTTL       time.Duration `mapstructure:"batch_ttl"`
}

type DirectDialConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Mock            bool          `mapstructure:"mock"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CallDelay       time.Duration `mapstructure:"call_delay"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RateLimitWait   time.Duration `mapstructure:"rate_limit_wait"`
	ErrorWait       time.Duration `mapstructure:"error_wait"`
}

// IntegrationConfig carries deployment-wide fallbacks used when a workspace has no
// integration row of its own.
type IntegrationConfig struct {
	DirectDialAPIKey     string `mapstructure:"direct_dial_api_key"`
	DefaultCallerID      string `mapstructure:"default_caller_id"`
	DefaultPhoneNumberID string `mapstructure:"default_phone_number_id"`
}

type ProgressConfig struct {
	PushTimeout  time.Duration `mapstructure:"push_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
}

type WebhooksConfig struct {
	RelaySecret      string `mapstructure:"relay_secret"`
	DirectDialSecret string `mapstructure:"direct_dial_secret"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.body_limit", 16*1024*1024)
	v.SetDefault("postgres.migrations_dir", "migrations")
	v.SetDefault("scylla.replication_factor", 1)
	v.SetDefault("kafka.topic_partitions", 12)
	v.SetDefault("kafka.topic_replication", 1)
	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.max_batch_size", 100)
	v.SetDefault("scheduler.abandoned_after", 24*time.Hour)
	v.SetDefault("scheduler.stuck_call_age", 15*time.Minute)
	v.SetDefault("scheduler.leader_lock_ttl", 55*time.Second)
	v.SetDefault("scheduler.dialer_lease_ttl", 2*time.Minute)
	v.SetDefault("scheduler.lock_key_prefix", "campaign-core")
	v.SetDefault("recipients.max_import_batch", 10000)
	v.SetDefault("recipients.default_region", "US")
	v.SetDefault("relay.request_timeout", 15*time.Second)
	v.SetDefault("relay.batch_ttl", 72*time.Hour)
	v.SetDefault("direct_dial.request_timeout", 15*time.Second)
	v.SetDefault("direct_dial.call_delay", time.Second)
	v.SetDefault("direct_dial.checkpoint_every", 10)
	v.SetDefault("direct_dial.max_retries", 2)
	v.SetDefault("direct_dial.rate_limit_wait", 5*time.Second)
	v.SetDefault("direct_dial.error_wait", 2*time.Second)
	v.SetDefault("progress.push_timeout", 30*time.Second)
	v.SetDefault("progress.poll_interval", 5*time.Second)
	v.SetDefault("progress.rate_window", time.Minute)
}
