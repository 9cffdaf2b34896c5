// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"messenger/internal/repository"
)

const (
	BackendDynamoDB  = "dynamodb"
	BackendCassandra = "cassandra"
	BackendMemory    = "memory"
)

type TablesCfg struct {
	Messages      string
	Conversations string
	Metadata      string
	Lookup        string
}

type CassandraCfg struct {
	Hosts             []string
	Port              int
	Keyspace          string
	ReplicationFactor int
	Username          string
	Password          string
}

type Config struct {
	StoreBackend string
	Tables       TablesCfg
	Cassandra    CassandraCfg
	ParamPrefix  string

	AWSMaxAttempts   int
	StoreTimeout     time.Duration
	ScanBatchSize    int
	MaxContentLength int
	MaxPageLimit     int

	LogLevel       string
	LogDevelopment bool
	HTTPAddr       string
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		StoreBackend: strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND"))),
		Tables: TablesCfg{
			Messages:      v.GetString("MESSAGES_TABLE"),
			Conversations: v.GetString("CONVERSATIONS_TABLE"),
			Metadata:      v.GetString("METADATA_TABLE"),
			Lookup:        v.GetString("LOOKUP_TABLE"),
		},
		Cassandra: CassandraCfg{
			Hosts:             splitList(v.GetString("CASSANDRA_HOSTS")),
			Port:              v.GetInt("CASSANDRA_PORT"),
			Keyspace:          v.GetString("CASSANDRA_KEYSPACE"),
			ReplicationFactor: v.GetInt("CASSANDRA_REPLICATION_FACTOR"),
			Username:          v.GetString("CASSANDRA_USERNAME"),
			Password:          v.GetString("CASSANDRA_PASSWORD"),
		},
		ParamPrefix:      strings.TrimRight(strings.TrimSpace(v.GetString("PARAM_PREFIX")), "/"),
		AWSMaxAttempts:   v.GetInt("AWS_MAX_ATTEMPTS"),
		StoreTimeout:     v.GetDuration("STORE_TIMEOUT"),
		ScanBatchSize:    v.GetInt("SCAN_BATCH_SIZE"),
		MaxContentLength: v.GetInt("MAX_CONTENT_LENGTH"),
		MaxPageLimit:     v.GetInt("MAX_PAGE_LIMIT"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogDevelopment:   v.GetBool("LOG_DEVELOPMENT"),
		HTTPAddr:         v.GetString("HTTP_ADDR"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("STORE_BACKEND", BackendDynamoDB)
	v.SetDefault("MESSAGES_TABLE", "messages_by_conversation")
	v.SetDefault("CONVERSATIONS_TABLE", "conversations_by_user")
	v.SetDefault("METADATA_TABLE", "conversation_metadata")
	v.SetDefault("LOOKUP_TABLE", "user_conversations_lookup")
	v.SetDefault("CASSANDRA_HOSTS", "localhost")
	v.SetDefault("CASSANDRA_PORT", 9042)
	v.SetDefault("CASSANDRA_KEYSPACE", "messenger")
	v.SetDefault("CASSANDRA_REPLICATION_FACTOR", 3)
	v.SetDefault("CASSANDRA_USERNAME", "")
	v.SetDefault("CASSANDRA_PASSWORD", "")
	v.SetDefault("PARAM_PREFIX", "")
	v.SetDefault("AWS_MAX_ATTEMPTS", 5)
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("SCAN_BATCH_SIZE", 100)
	v.SetDefault("MAX_CONTENT_LENGTH", 4000)
	v.SetDefault("MAX_PAGE_LIMIT", 100)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("HTTP_ADDR", ":8080")
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendDynamoDB, BackendCassandra, BackendMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	for name, n := range map[string]int{
		"AWS_MAX_ATTEMPTS":   c.AWSMaxAttempts,
		"SCAN_BATCH_SIZE":    c.ScanBatchSize,
		"MAX_CONTENT_LENGTH": c.MaxContentLength,
		"MAX_PAGE_LIMIT":     c.MaxPageLimit,
	} {
		if n <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, n)
		}
	}
	if c.StoreTimeout <= 0 {
		return errors.New("config: STORE_TIMEOUT must be a positive duration")
	}
	if c.StoreBackend == BackendCassandra {
		if len(c.Cassandra.Hosts) == 0 {
			return errors.New("config: CASSANDRA_HOSTS must not be empty")
		}
		if c.Cassandra.Keyspace == "" {
			return errors.New("config: CASSANDRA_KEYSPACE must not be empty")
		}
	}
	return nil
}

// DynamoTables returns the DynamoDB table names.
func (c *Config) DynamoTables() repository.Tables {
	return repository.Tables{
		Messages:      c.Tables.Messages,
		Conversations: c.Tables.Conversations,
		Metadata:      c.Tables.Metadata,
		Lookup:        c.Tables.Lookup,
	}
}

// CassandraSession returns the session settings for the configured keyspace.
func (c *Config) CassandraSession() repository.CassandraConfig {
	return repository.CassandraConfig{
		Hosts:    c.Cassandra.Hosts,
		Port:     c.Cassandra.Port,
		Keyspace: c.Cassandra.Keyspace,
		Username: c.Cassandra.Username,
		Password: c.Cassandra.Password,
		Timeout:  c.StoreTimeout,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
