package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Cache      CacheConfig               `yaml:"cache" mapstructure:"cache"`
	Classifier ClassifierConfig          `yaml:"classifier" mapstructure:"classifier"`
	Providers  map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Lookup     LookupConfig              `yaml:"lookup" mapstructure:"lookup"`
	Batch      BatchConfig               `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig              `yaml:"server" mapstructure:"server"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the HTTP response cache.
type CacheConfig struct {
	// Backend is auto, postgres, mongo, redis, sqlite or memory.
	Backend          string `yaml:"backend" mapstructure:"backend"`
	DurableURL       string `yaml:"durable_url" mapstructure:"durable_url"`
	SQLitePath       string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	TTLHours         int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	ProbeTimeoutMS   int    `yaml:"probe_timeout_ms" mapstructure:"probe_timeout_ms"`
	Constrained      bool   `yaml:"constrained" mapstructure:"constrained"`
	MaxMemoryEntries int    `yaml:"max_memory_entries" mapstructure:"max_memory_entries"`
	AllowedStatus    []int  `yaml:"allowed_status" mapstructure:"allowed_status"`
	Precision        int    `yaml:"precision" mapstructure:"precision"`
	MongoDatabase    string `yaml:"mongo_database" mapstructure:"mongo_database"`
	MongoCollection  string `yaml:"mongo_collection" mapstructure:"mongo_collection"`
	RedisPrefix      string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ProbeTimeout returns the durable backend probe timeout.
func (c CacheConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// ClassifierConfig configures coordinate classification.
type ClassifierConfig struct {
	// Online enables the Nominatim reverse lookup before the offline boxes.
	Online        bool   `yaml:"online" mapstructure:"online"`
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
	NominatimURL  string `yaml:"nominatim_url" mapstructure:"nominatim_url"`
	MinIntervalMS int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ProviderConfig configures one elevation provider.
type ProviderConfig struct {
	Endpoint           string  `yaml:"endpoint" mapstructure:"endpoint"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	APIKey             string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimitQPS       float64 `yaml:"rate_limit_qps" mapstructure:"rate_limit_qps"`
	VerticalDatum      string  `yaml:"vertical_datum" mapstructure:"vertical_datum"`
	DefaultResolutionM float64 `yaml:"default_resolution_m" mapstructure:"default_resolution_m"`
	Dataset            string  `yaml:"dataset" mapstructure:"dataset"`
}

// Timeout returns the per-request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// LookupConfig holds defaults for single lookups.
type LookupConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Format      string `yaml:"format" mapstructure:"format"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentSamples int    `yaml:"max_concurrent_samples" mapstructure:"max_concurrent_samples"`
	IDColumn             string `yaml:"id_column" mapstructure:"id_column"`
	LatColumn            string `yaml:"lat_column" mapstructure:"lat_column"`
	LonColumn            string `yaml:"lon_column" mapstructure:"lon_column"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                 int `yaml:"port" mapstructure:"port"`
	ShutdownTimeoutSecs  int `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
	RequestTimeoutSecs   int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MaxProvidersPerQuery int `yaml:"max_providers_per_query" mapstructure:"max_providers_per_query"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// providerDefaults seeds each built-in provider.
var providerDefaults = map[string]ProviderConfig{
	"usgs": {
		Endpoint: "https://epqs.nationalmap.gov/v1/json", TimeoutSecs: 20, Enabled: true,
		VerticalDatum: "NAVD88", DefaultResolutionM: 10,
	},
	"google": {
		Endpoint: "https://maps.googleapis.com/maps/api/elevation/json", TimeoutSecs: 20, Enabled: true,
		RateLimitQPS: 50, VerticalDatum: "EGM96",
	},
	"open_topo_data": {
		Endpoint: "https://api.opentopodata.org/v1", TimeoutSecs: 20, Enabled: true,
		RateLimitQPS: 1, Dataset: "srtm30m",
	},
	"osm": {
		Endpoint: "https://api.open-elevation.com/api/v1/lookup", TimeoutSecs: 20, Enabled: true,
		VerticalDatum: "EGM96", DefaultResolutionM: 90,
	},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known variables shared with other tooling.
	_ = v.BindEnv("cache.durable_url", "ENRICHER_CACHE_DURABLE_URL", "MONGO_URI", "DATABASE_URL", "REDIS_URL")
	_ = v.BindEnv("providers.google.api_key", "ENRICHER_PROVIDERS_GOOGLE_API_KEY", "GOOGLE_MAIN_API_KEY")

	// Defaults
	v.SetDefault("cache.backend", "auto")
	v.SetDefault("cache.sqlite_path", ".cache/http_cache.db")
	v.SetDefault("cache.ttl_hours", 30*24)
	v.SetDefault("cache.probe_timeout_ms", 1000)
	v.SetDefault("cache.constrained", false)
	v.SetDefault("cache.max_memory_entries", 10000)
	v.SetDefault("cache.allowed_status", []int{200})
	v.SetDefault("cache.precision", 4)
	v.SetDefault("cache.mongo_database", "biosample_enricher")
	v.SetDefault("cache.mongo_collection", "http_cache")
	v.SetDefault("cache.redis_prefix", "biosample:httpcache:")
	v.SetDefault("classifier.online", false)
	v.SetDefault("classifier.user_agent", "biosample-enricher/1.0")
	v.SetDefault("classifier.nominatim_url", "https://nominatim.openstreetmap.org/reverse")
	v.SetDefault("classifier.min_interval_ms", 1100)
	v.SetDefault("classifier.timeout_secs", 10)
	for name, p := range providerDefaults {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"endpoint", p.Endpoint)
		v.SetDefault(prefix+"timeout_secs", p.TimeoutSecs)
		v.SetDefault(prefix+"enabled", p.Enabled)
		v.SetDefault(prefix+"rate_limit_qps", p.RateLimitQPS)
		v.SetDefault(prefix+"vertical_datum", p.VerticalDatum)
		v.SetDefault(prefix+"default_resolution_m", p.DefaultResolutionM)
		v.SetDefault(prefix+"dataset", p.Dataset)
	}
	v.SetDefault("lookup.timeout_secs", 20)
	v.SetDefault("lookup.format", "json")
	v.SetDefault("batch.max_concurrent_samples", 4)
	v.SetDefault("batch.id_column", "sample_id")
	v.SetDefault("batch.lat_column", "lat")
	v.SetDefault("batch.lon_column", "lon")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("server.request_timeout_secs", 120)
	v.SetDefault("server.max_providers_per_query", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var cacheBackends = map[string]bool{
	"auto": true, "postgres": true, "mongo": true, "redis": true, "sqlite": true, "memory": true,
}

// Validate checks the configuration for the given command mode
// (lookup, batch, serve or cache).
func (c *Config) Validate(mode string) error {
	var errs []string

	if !cacheBackends[c.Cache.Backend] {
		errs = append(errs, "cache.backend must be one of auto, postgres, mongo, redis, sqlite, memory")
	}
	switch c.Cache.Backend {
	case "postgres", "mongo", "redis":
		if c.Cache.DurableURL == "" {
			errs = append(errs, "cache.durable_url is required for backend "+c.Cache.Backend)
		}
	}
	if c.Cache.Precision < 0 || c.Cache.Precision > 10 {
		errs = append(errs, "cache.precision must be between 0 and 10")
	}
	if c.Cache.TTLHours < 0 {
		errs = append(errs, "cache.ttl_hours must be >= 0")
	}

	for name, p := range c.Providers {
		if p.TimeoutSecs < 0 {
			errs = append(errs, "providers."+name+".timeout_secs must be >= 0")
		}
		if p.RateLimitQPS < 0 {
			errs = append(errs, "providers."+name+".rate_limit_qps must be >= 0")
		}
		if p.DefaultResolutionM < 0 {
			errs = append(errs, "providers."+name+".default_resolution_m must be >= 0")
		}
	}

	switch mode {
	case "lookup", "cache":
	case "batch":
		if c.Batch.MaxConcurrentSamples < 1 || c.Batch.MaxConcurrentSamples > 64 {
			errs = append(errs, "batch.max_concurrent_samples must be between 1 and 64")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
