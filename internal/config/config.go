// internal/config/config.go
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Migration MigrationConfig
	Source    ClusterConfig
	Dest      ClusterConfig
	Log       LogConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Archive   ArchiveConfig
}

type MigrationConfig struct {
	Workers           int
	ChunkSizeBytes    int
	PoolExistsPolicy  string
	PreservePlacement bool
	IncludePools      []string
	ExcludePools      []string
}

type ClusterConfig struct {
	ConfFile       string
	ClusterName    string
	User           string
	Keyring        string
	MonHost        string
	ConnectTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type CacheConfig struct {
	Enabled            bool
	RedisURL           string
	RedisHost          string
	RedisPort          string
	RedisPassword      string
	RedisDB            int
	ProgressTTLSeconds int
}

type ArchiveConfig struct {
	Enabled   bool
	Driver    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

var (
	once     sync.Once
	instance *Config
)

// Load reads the process configuration once: .env, defaults, then environment.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		v := viper.GetViper()
		SetDefaults(v)

		// Read from environment variables
		v.AutomaticEnv()

		instance = FromViper(v)
	})

	return instance
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("MIGRATE_WORKERS", 1)
	v.SetDefault("MIGRATE_CHUNK_SIZE_BYTES", 4*1024*1024)
	v.SetDefault("MIGRATE_POOL_EXISTS", "skip")
	v.SetDefault("MIGRATE_PRESERVE_PLACEMENT", true)
	v.SetDefault("MIGRATE_INCLUDE_POOLS", []string{})
	v.SetDefault("MIGRATE_EXCLUDE_POOLS", []string{})

	v.SetDefault("SOURCE_CEPH_CONF", "")
	v.SetDefault("SOURCE_CEPH_CLUSTER", "")
	v.SetDefault("SOURCE_CEPH_USER", "")
	v.SetDefault("SOURCE_CEPH_KEYRING", "")
	v.SetDefault("SOURCE_CEPH_MON_HOST", "")
	v.SetDefault("SOURCE_CEPH_CONNECT_TIMEOUT", "30s")
	v.SetDefault("DEST_CEPH_CONF", "")
	v.SetDefault("DEST_CEPH_CLUSTER", "")
	v.SetDefault("DEST_CEPH_USER", "")
	v.SetDefault("DEST_CEPH_KEYRING", "")
	v.SetDefault("DEST_CEPH_MON_HOST", "")
	v.SetDefault("DEST_CEPH_CONNECT_TIMEOUT", "30s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "release")
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 15)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "radosmigrate")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_PROGRESS_TTL_SECONDS", 86400)

	v.SetDefault("ARCHIVE_ENABLED", false)
	v.SetDefault("ARCHIVE_DRIVER", "minio")
	v.SetDefault("ARCHIVE_ENDPOINT", "")
	v.SetDefault("ARCHIVE_ACCESS_KEY", "")
	v.SetDefault("ARCHIVE_SECRET_KEY", "")
	v.SetDefault("ARCHIVE_BUCKET", "")
	v.SetDefault("ARCHIVE_REGION", "us-east-1")
	v.SetDefault("ARCHIVE_PREFIX", "radosmigrate/runs")
	v.SetDefault("ARCHIVE_USE_SSL", true)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Migration: MigrationConfig{
			Workers:           v.GetInt("MIGRATE_WORKERS"),
			ChunkSizeBytes:    v.GetInt("MIGRATE_CHUNK_SIZE_BYTES"),
			PoolExistsPolicy:  v.GetString("MIGRATE_POOL_EXISTS"),
			PreservePlacement: v.GetBool("MIGRATE_PRESERVE_PLACEMENT"),
			IncludePools:      SplitList(v.GetStringSlice("MIGRATE_INCLUDE_POOLS")),
			ExcludePools:      SplitList(v.GetStringSlice("MIGRATE_EXCLUDE_POOLS")),
		},
		Source: clusterConfig(v, "SOURCE"),
		Dest:   clusterConfig(v, "DEST"),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:            v.GetBool("CACHE_ENABLED"),
			RedisURL:           v.GetString("REDIS_URL"),
			RedisHost:          v.GetString("REDIS_HOST"),
			RedisPort:          v.GetString("REDIS_PORT"),
			RedisPassword:      v.GetString("REDIS_PASSWORD"),
			RedisDB:            v.GetInt("REDIS_DB"),
			ProgressTTLSeconds: v.GetInt("CACHE_PROGRESS_TTL_SECONDS"),
		},
		Archive: ArchiveConfig{
			Enabled:   v.GetBool("ARCHIVE_ENABLED"),
			Driver:    v.GetString("ARCHIVE_DRIVER"),
			Endpoint:  v.GetString("ARCHIVE_ENDPOINT"),
			AccessKey: v.GetString("ARCHIVE_ACCESS_KEY"),
			SecretKey: v.GetString("ARCHIVE_SECRET_KEY"),
			Bucket:    v.GetString("ARCHIVE_BUCKET"),
			Region:    v.GetString("ARCHIVE_REGION"),
			Prefix:    v.GetString("ARCHIVE_PREFIX"),
			UseSSL:    v.GetBool("ARCHIVE_USE_SSL"),
		},
	}
}

func clusterConfig(v *viper.Viper, prefix string) ClusterConfig {
	return ClusterConfig{
		ConfFile:       v.GetString(prefix + "_CEPH_CONF"),
		ClusterName:    v.GetString(prefix + "_CEPH_CLUSTER"),
		User:           v.GetString(prefix + "_CEPH_USER"),
		Keyring:        v.GetString(prefix + "_CEPH_KEYRING"),
		MonHost:        v.GetString(prefix + "_CEPH_MON_HOST"),
		ConnectTimeout: v.GetDuration(prefix + "_CEPH_CONNECT_TIMEOUT"),
	}
}

// SplitList flattens comma separated entries, since env vars arrive as one string.
func SplitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
