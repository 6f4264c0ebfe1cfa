package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg := FromViper(v)
	require.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.Migration.Workers)
	assert.Equal(t, 4*1024*1024, cfg.Migration.ChunkSizeBytes)
	assert.Equal(t, "skip", cfg.Migration.PoolExistsPolicy)
	assert.True(t, cfg.Migration.PreservePlacement)
	assert.Empty(t, cfg.Migration.IncludePools)
	assert.Equal(t, 30*time.Second, cfg.Source.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Dest.ConnectTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 86400, cfg.Cache.ProgressTTLSeconds)
	assert.Equal(t, "minio", cfg.Archive.Driver)
}

func TestFromViper_Environment(t *testing.T) {
	t.Setenv("SOURCE_CEPH_CONF", "/etc/ceph/old.conf")
	t.Setenv("DEST_CEPH_CONF", "/etc/ceph/rook.conf")
	t.Setenv("DEST_CEPH_USER", "client.migrate")
	t.Setenv("DEST_CEPH_CONNECT_TIMEOUT", "5s")
	t.Setenv("MIGRATE_WORKERS", "8")
	t.Setenv("MIGRATE_EXCLUDE_POOLS", ".mgr, device_health_metrics")
	t.Setenv("CACHE_ENABLED", "true")

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	cfg := FromViper(v)
	assert.Equal(t, "/etc/ceph/old.conf", cfg.Source.ConfFile)
	assert.Equal(t, "/etc/ceph/rook.conf", cfg.Dest.ConfFile)
	assert.Equal(t, "client.migrate", cfg.Dest.User)
	assert.Equal(t, 5*time.Second, cfg.Dest.ConnectTimeout)
	assert.Equal(t, 8, cfg.Migration.Workers)
	assert.Equal(t, []string{".mgr", "device_health_metrics"}, cfg.Migration.ExcludePools)
	assert.True(t, cfg.Cache.Enabled)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(nil))
	assert.Equal(t, []string{"a", "b", "c"}, SplitList([]string{"a, b", "", " c "}))
}
