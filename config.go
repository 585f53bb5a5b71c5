package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/orian/viewcount/chart"
	"github.com/orian/viewcount/source"
	"github.com/spf13/viper"
)

const envPrefix = "VIEWCOUNT"

// ThumbnailConfig controls thumbnail probing.
type ThumbnailConfig struct {
	BaseURL   string   `json:"base_url" mapstructure:"base_url"`
	Qualities []string `json:"qualities" mapstructure:"qualities"`
	Persist   bool     `json:"persist" mapstructure:"persist"`
}

// HTTPConfig controls the web server.
type HTTPConfig struct {
	Listen    string `json:"listen" mapstructure:"listen"`
	StaticDir string `json:"static_dir" mapstructure:"static_dir"`
}

// EngineConfig controls the query engine.
type EngineConfig struct {
	ScratchDir         string `json:"scratch_dir" mapstructure:"scratch_dir"`
	CastBigIntToDouble bool   `json:"cast_bigint_to_double" mapstructure:"cast_bigint_to_double"`
}

// Config is the application configuration.
type Config struct {
	CacheDir    string          `json:"cache_dir" mapstructure:"cache_dir"`
	MarkerURL   string          `json:"marker_url" mapstructure:"marker_url"`
	SnapshotURL string          `json:"snapshot_url" mapstructure:"snapshot_url"`
	HTTPTimeout time.Duration   `json:"http_timeout" mapstructure:"http_timeout"`
	S3          source.S3Config `json:"s3" mapstructure:"s3"`
	Thumbnail   ThumbnailConfig `json:"thumbnail" mapstructure:"thumbnail"`
	HTTP        HTTPConfig      `json:"http" mapstructure:"http"`
	Engine      EngineConfig    `json:"engine" mapstructure:"engine"`
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "viewcount")
	}

	return ".viewcount-cache"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_dir", defaultCacheDir())
	v.SetDefault("marker_url", source.DefaultMarkerURL)
	v.SetDefault("snapshot_url", source.DefaultSnapshotURL)
	v.SetDefault("http_timeout", 10*time.Minute)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.secure", true)

	v.SetDefault("thumbnail.base_url", chart.DefaultThumbnailBase)
	v.SetDefault("thumbnail.qualities", chart.DefaultQualities)
	v.SetDefault("thumbnail.persist", true)

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.static_dir", "./static")

	v.SetDefault("engine.scratch_dir", "")
	v.SetDefault("engine.cast_bigint_to_double", true)
}

// loadConfig reads file, if given, over the defaults. VIEWCOUNT_* variables
// override both, e.g. VIEWCOUNT_HTTP_LISTEN for http.listen.
func loadConfig(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("cache_dir must not be empty")
	}

	return cfg, nil
}

// loadDotEnv copies VIEWCOUNT_* entries from .env and .env.local into the
// environment. Variables already set are left alone.
func loadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", ".env.local"}
	}

	orig := map[string]struct{}{}

	for _, kv := range os.Environ() {
		if key, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(key, envPrefix+"_") {
			orig[key] = struct{}{}
		}
	}

	for _, path := range paths {
		env, err := godotenv.Read(path)
		if err != nil {
			continue
		}

		for key, val := range env {
			if !strings.HasPrefix(key, envPrefix+"_") {
				continue
			}

			if _, ok := orig[key]; ok {
				continue
			}

			_ = os.Setenv(key, val)
		}
	}
}
