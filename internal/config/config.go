package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Listen     string
	Env        string
	LocalDirs  []string
	Memory     MemoryConfig
	Fetch      FetchConfig
	FeedBuffer int
	Source     SourceConfig
}

type MemoryConfig struct {
	BudgetBytes    int64
	MaxSingleBytes int64
}

type FetchConfig struct {
	Workers    int
	QueueDepth int
}

// SourceConfig selects where announced spills are streamed from. An HTTP
// base URL takes precedence; otherwise the object store is used when enabled.
type SourceConfig struct {
	HTTPBase string
	Object   ObjectConfig
}

type ObjectConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	AccessKey        string
	SecretKey        string
	Bucket           string
	UseSSL           bool
	SizeCacheEntries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	listen := flag.String("listen", ":8355", "console listen address")
	flag.Parse()

	if envListen := os.Getenv("RIFFLE_LISTEN"); envListen != "" {
		if strings.HasPrefix(envListen, ":") {
			*listen = envListen
		} else {
			*listen = ":" + envListen
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	cfg := fromEnv(env)
	cfg.Listen = *listen
	return cfg, nil
}

func fromEnv(env string) *Config {
	return &Config{
		Env:       env,
		LocalDirs: resolveLocalDirs(),
		Memory: MemoryConfig{
			BudgetBytes:    resolveBytes("RIFFLE_MEMORY_BUDGET", 256<<20),
			MaxSingleBytes: resolveBytes("RIFFLE_MEMORY_MAX_SINGLE", 0),
		},
		Fetch: FetchConfig{
			Workers:    resolveCount("RIFFLE_FETCH_WORKERS", 4),
			QueueDepth: resolveCount("RIFFLE_FETCH_QUEUE", 0),
		},
		FeedBuffer: resolveCount("RIFFLE_FEED_BUFFER", 64),
		Source: SourceConfig{
			HTTPBase: strings.TrimSpace(os.Getenv("RIFFLE_SOURCE_HTTP")),
			Object:   resolveObjectConfig(env),
		},
	}
}

func resolveLocalDirs() []string {
	raw := strings.TrimSpace(os.Getenv("RIFFLE_LOCAL_DIRS"))
	if raw == "" {
		return []string{os.TempDir()}
	}
	var dirs []string
	for _, part := range strings.Split(raw, ",") {
		if dir := strings.TrimSpace(part); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return []string{os.TempDir()}
	}
	return dirs
}

func resolveObjectConfig(env string) ObjectConfig {
	endpoint := resolveObjectEndpoint(env)
	return ObjectConfig{
		Enabled:          strings.EqualFold(strings.TrimSpace(env), "local") || endpoint != "",
		Endpoint:         endpoint,
		Region:           firstNonEmpty(strings.TrimSpace(os.Getenv("RIFFLE_S3_REGION")), "us-east-1"),
		AccessKey:        firstNonEmpty(strings.TrimSpace(os.Getenv("RIFFLE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey:        firstNonEmpty(strings.TrimSpace(os.Getenv("RIFFLE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:           firstNonEmpty(strings.TrimSpace(os.Getenv("RIFFLE_S3_BUCKET")), "riffle-spills"),
		UseSSL:           resolveObjectUseSSL(env),
		SizeCacheEntries: resolveCount("RIFFLE_S3_SIZE_CACHE", 0),
	}
}

func resolveObjectEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("RIFFLE_MINIO_ENDPOINT")), "minio:9000")
	}
	return strings.TrimSpace(os.Getenv("RIFFLE_S3_ENDPOINT"))
}

func resolveObjectUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("RIFFLE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func resolveBytes(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func resolveCount(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
