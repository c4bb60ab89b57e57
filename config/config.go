package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the authoritative runtime configuration of the service.
// Defaults follow the platform-wide conventions; every key can be overridden
// by an OPENACAD_-prefixed environment variable or a YAML file.
type Config struct {
	Activity ActivityConfig `mapstructure:"activity"`
	MQ       MQConfig       `mapstructure:"mq"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cassa    CassaConfig    `mapstructure:"cassandra"`
	Push     PushConfig     `mapstructure:"push"`
	Signing  SigningConfig  `mapstructure:"signing"`
	Tenant   TenantConfig   `mapstructure:"tenant"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Services ServicesConfig `mapstructure:"services"`
}

// ServicesConfig points at the sibling tiers this service calls.
type ServicesConfig struct {
	// DirectoryURL is the membership/permissions oracle.
	DirectoryURL string `mapstructure:"directoryUrl"`
	// PreviewURL is the preview-processing tier.
	PreviewURL string `mapstructure:"previewUrl"`
}

type ActivityConfig struct {
	// ActivityTTL is the stream-entry retention, in seconds.
	ActivityTTL int `mapstructure:"activityTtl"`
	// AggregateIdleExpiry is the idle window for aggregate reuse, in milliseconds.
	AggregateIdleExpiry int64 `mapstructure:"aggregateIdleExpiry"`
	// AggregateMaxExpiry is the total lifetime of an aggregate, in milliseconds.
	AggregateMaxExpiry int64 `mapstructure:"aggregateMaxExpiry"`
	// NumberOfProcessingBuckets partitions the pending-route space.
	NumberOfProcessingBuckets int `mapstructure:"numberOfProcessingBuckets"`
	// CollectionExpiry is the bucket lock TTL, in milliseconds.
	CollectionExpiry int64 `mapstructure:"collectionExpiry"`
	// MaxConcurrentCollections caps parallel collection cycles per process.
	MaxConcurrentCollections int `mapstructure:"maxConcurrentCollections"`
	// CollectionPollingFrequency is the collector tick, in milliseconds. -1 disables.
	CollectionPollingFrequency int64 `mapstructure:"collectionPollingFrequency"`
	// CollectionBatchSize bounds how many pending entries one cycle drains.
	CollectionBatchSize int `mapstructure:"collectionBatchSize"`
	// ProcessActivityJobs toggles background collection on this node.
	ProcessActivityJobs bool `mapstructure:"processActivityJobs"`
}

type MQConfig struct {
	// URI is the AMQP broker address. Empty selects the in-process gochannel bus.
	URI           string `mapstructure:"uri"`
	PrefetchCount int    `mapstructure:"prefetchCount"`
}

type RedisConfig struct {
	// Addr of the shared KV store. Empty selects the in-memory KV.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CassaConfig struct {
	// Hosts of the column-family datastore. Empty selects the in-memory stores.
	Hosts    []string `mapstructure:"hosts"`
	Keyspace string   `mapstructure:"keyspace"`
}

type PushConfig struct {
	AuthenticationTimeoutSec int `mapstructure:"authenticationTimeoutSec"`
	MailboxSize              int `mapstructure:"mailboxSize"`
}

type SigningConfig struct {
	// Key is the HMAC secret used for resource signatures and push authentication.
	Key string `mapstructure:"key"`
}

type TenantConfig struct {
	// Hosts are the known local tenant hosts eligible for URL rewriting.
	Hosts []string `mapstructure:"hosts"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

func (c ActivityConfig) IdleExpiry() time.Duration {
	return time.Duration(c.AggregateIdleExpiry) * time.Millisecond
}

func (c ActivityConfig) MaxExpiry() time.Duration {
	return time.Duration(c.AggregateMaxExpiry) * time.Millisecond
}

func (c ActivityConfig) LockTTL() time.Duration {
	return time.Duration(c.CollectionExpiry) * time.Millisecond
}

func (c ActivityConfig) PollingInterval() time.Duration {
	return time.Duration(c.CollectionPollingFrequency) * time.Millisecond
}

func (c ActivityConfig) EntryTTL() time.Duration {
	return time.Duration(c.ActivityTTL) * time.Second
}

func (c PushConfig) AuthenticationTimeout() time.Duration {
	return time.Duration(c.AuthenticationTimeoutSec) * time.Second
}

// LoadConfig reads configuration from the optional file path and the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("activity.activityTtl", 1209600)
	v.SetDefault("activity.aggregateIdleExpiry", 10800000)
	v.SetDefault("activity.aggregateMaxExpiry", 86400000)
	v.SetDefault("activity.numberOfProcessingBuckets", 5)
	v.SetDefault("activity.collectionExpiry", 60000)
	v.SetDefault("activity.maxConcurrentCollections", 3)
	v.SetDefault("activity.collectionPollingFrequency", 5000)
	v.SetDefault("activity.collectionBatchSize", 500)
	v.SetDefault("activity.processActivityJobs", true)
	v.SetDefault("mq.prefetchCount", 15)
	v.SetDefault("mq.uri", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cassandra.hosts", []string{})
	v.SetDefault("cassandra.keyspace", "openacad")
	v.SetDefault("push.authenticationTimeoutSec", 5)
	v.SetDefault("push.mailboxSize", 2048)
	v.SetDefault("signing.key", "")
	v.SetDefault("tenant.hosts", []string{})
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("services.directoryUrl", "http://localhost:8081")
	v.SetDefault("services.previewUrl", "http://localhost:8082")

	v.SetEnvPrefix("OPENACAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}
