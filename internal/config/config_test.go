package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsForLocalEnv(t *testing.T) {
	for _, key := range []string{
		"RIFFLE_LOCAL_DIRS", "RIFFLE_MEMORY_BUDGET", "RIFFLE_MEMORY_MAX_SINGLE",
		"RIFFLE_FETCH_WORKERS", "RIFFLE_FETCH_QUEUE", "RIFFLE_FEED_BUFFER",
		"RIFFLE_SOURCE_HTTP", "RIFFLE_MINIO_ENDPOINT", "RIFFLE_S3_REGION",
		"RIFFLE_S3_ACCESS_KEY", "RIFFLE_S3_SECRET_KEY", "RIFFLE_S3_BUCKET",
		"MINIO_ROOT_USER", "MINIO_ROOT_PASSWORD",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg := fromEnv("local")
	assert.Equal(t, []string{os.TempDir()}, cfg.LocalDirs)
	assert.Equal(t, int64(256<<20), cfg.Memory.BudgetBytes)
	assert.Zero(t, cfg.Memory.MaxSingleBytes)
	assert.Equal(t, 4, cfg.Fetch.Workers)
	assert.Equal(t, 64, cfg.FeedBuffer)
	assert.Empty(t, cfg.Source.HTTPBase)
	assert.True(t, cfg.Source.Object.Enabled)
	assert.Equal(t, "minio:9000", cfg.Source.Object.Endpoint)
	assert.Equal(t, "us-east-1", cfg.Source.Object.Region)
	assert.Equal(t, "riffle-spills", cfg.Source.Object.Bucket)
	assert.False(t, cfg.Source.Object.UseSSL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RIFFLE_LOCAL_DIRS", " /mnt/ssd0 , /mnt/ssd1,")
	t.Setenv("RIFFLE_MEMORY_BUDGET", "1048576")
	t.Setenv("RIFFLE_MEMORY_MAX_SINGLE", "65536")
	t.Setenv("RIFFLE_FETCH_WORKERS", "8")
	t.Setenv("RIFFLE_FEED_BUFFER", "128")
	t.Setenv("RIFFLE_SOURCE_HTTP", "http://mapper-7:9480")

	cfg := fromEnv("local")
	assert.Equal(t, []string{"/mnt/ssd0", "/mnt/ssd1"}, cfg.LocalDirs)
	assert.Equal(t, int64(1048576), cfg.Memory.BudgetBytes)
	assert.Equal(t, int64(65536), cfg.Memory.MaxSingleBytes)
	assert.Equal(t, 8, cfg.Fetch.Workers)
	assert.Equal(t, 128, cfg.FeedBuffer)
	assert.Equal(t, "http://mapper-7:9480", cfg.Source.HTTPBase)
}

func TestProductionObjectStore(t *testing.T) {
	t.Setenv("RIFFLE_S3_ENDPOINT", "s3.us-west-2.amazonaws.com")
	t.Setenv("RIFFLE_S3_REGION", "us-west-2")
	t.Setenv("RIFFLE_S3_ACCESS_KEY", "AKIA123")
	t.Setenv("RIFFLE_S3_SECRET_KEY", "secret")
	t.Setenv("RIFFLE_S3_BUCKET", "prod-spills")
	t.Setenv("RIFFLE_S3_USE_SSL", "")

	obj := resolveObjectConfig("production")
	assert.True(t, obj.Enabled)
	assert.Equal(t, "s3.us-west-2.amazonaws.com", obj.Endpoint)
	assert.Equal(t, "us-west-2", obj.Region)
	assert.Equal(t, "AKIA123", obj.AccessKey)
	assert.Equal(t, "prod-spills", obj.Bucket)
	assert.True(t, obj.UseSSL, "ssl defaults on outside local")
}

func TestProductionWithoutEndpointDisablesObjectStore(t *testing.T) {
	t.Setenv("RIFFLE_S3_ENDPOINT", "")
	require.NoError(t, os.Unsetenv("RIFFLE_S3_ENDPOINT"))

	obj := resolveObjectConfig("production")
	assert.False(t, obj.Enabled)
	assert.Empty(t, obj.Endpoint)
}

func TestMinioRootCredentialFallback(t *testing.T) {
	t.Setenv("RIFFLE_S3_ACCESS_KEY", "")
	require.NoError(t, os.Unsetenv("RIFFLE_S3_ACCESS_KEY"))
	t.Setenv("RIFFLE_S3_SECRET_KEY", "")
	require.NoError(t, os.Unsetenv("RIFFLE_S3_SECRET_KEY"))
	t.Setenv("MINIO_ROOT_USER", "riffle")
	t.Setenv("MINIO_ROOT_PASSWORD", "riffle123")

	obj := resolveObjectConfig("local")
	assert.Equal(t, "riffle", obj.AccessKey)
	assert.Equal(t, "riffle123", obj.SecretKey)
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("RIFFLE_MEMORY_BUDGET", "lots")
	t.Setenv("RIFFLE_FETCH_WORKERS", "-3")
	t.Setenv("RIFFLE_S3_USE_SSL", "sometimes")

	assert.Equal(t, int64(256<<20), resolveBytes("RIFFLE_MEMORY_BUDGET", 256<<20))
	assert.Equal(t, 4, resolveCount("RIFFLE_FETCH_WORKERS", 4))
	assert.True(t, resolveObjectUseSSL("production"))
}
