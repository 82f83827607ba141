package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the transcription CLI and daemon.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Model         ModelConfig         `mapstructure:"model"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Inputs        BlobConfig          `mapstructure:"inputs"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Health        HealthConfig        `mapstructure:"health"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	Limits                LimitsConfig  `mapstructure:"limits"`
}

// LimitsConfig bounds each client of the HTTP daemon. Counters live in the
// Redis instance named by cache.redis_url.
type LimitsConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	ParallelRequests  int `mapstructure:"parallel_requests"`
	UploadMBPerMinute int `mapstructure:"upload_mb_per_minute"`
}

// ModelConfig selects and tunes the speech model backend.
type ModelConfig struct {
	Backend        string        `mapstructure:"backend"`
	Model          string        `mapstructure:"model"`
	TranslateModel string        `mapstructure:"translate_model"`
	NativeLanguage string        `mapstructure:"native_language"`
	Prompt         string        `mapstructure:"prompt"`
	Temperature    *float32      `mapstructure:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Probe          bool          `mapstructure:"probe"`
	OpenAI         OpenAIConfig  `mapstructure:"openai"`
	Azure          AzureConfig   `mapstructure:"azure"`
	Local          LocalConfig   `mapstructure:"local"`
}

type OpenAIConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Organization string `mapstructure:"organization"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

type AzureConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	APIVersion string `mapstructure:"api_version"`
	Deployment string `mapstructure:"deployment"`
}

// LocalConfig drives the faster-whisper helper process.
type LocalConfig struct {
	Python         string        `mapstructure:"python"`
	Script         string        `mapstructure:"script"`
	Device         string        `mapstructure:"device"`
	ComputeType    string        `mapstructure:"compute_type"`
	ModelDir       string        `mapstructure:"model_dir"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
}

type AudioConfig struct {
	TempDir     string `mapstructure:"temp_dir"`
	DefaultExt  string `mapstructure:"default_ext"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig controls where successful results are persisted.
type ArchiveConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	Prefix  string     `mapstructure:"prefix"`
	Store   BlobConfig `mapstructure:"store"`
}

// BlobConfig describes a local-directory or S3 blob store.
type BlobConfig struct {
	Storage       string          `mapstructure:"storage"`
	EncryptionKey string          `mapstructure:"encryption_key"`
	S3            BlobS3Config    `mapstructure:"s3"`
	Local         BlobLocalConfig `mapstructure:"local"`
}

type BlobS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type BlobLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type ObservabilityConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
	// Overrides are applied last, keyed by dotted config path (e.g. "model.backend").
	Overrides map[string]any
}

// Load returns the merged configuration sourced from YAML, environment variables and overrides.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("SPEECH_RELAY_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("speech_relay")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("SPEECH_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Model.OpenAI.APIKey == "" {
		cfg.Model.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies derived defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if err := c.Model.validate(); err != nil {
		return err
	}
	c.Audio.validate()
	if c.Server.BodyLimitMB <= 0 {
		c.Server.BodyLimitMB = c.Audio.MaxUploadMB
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.RedisURL) == "" {
		return fmt.Errorf("cache.redis_url must be provided when cache is enabled")
	}
	if err := c.Server.Limits.validate(); err != nil {
		return err
	}
	if c.Server.Limits.Enabled() && strings.TrimSpace(c.Cache.RedisURL) == "" {
		return fmt.Errorf("cache.redis_url must be provided when server.limits are set")
	}
	if c.Cache.PoolSize < 0 {
		return fmt.Errorf("cache.pool_size must be >= 0")
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	if err := c.Archive.Store.validate("archive.store"); err != nil {
		return err
	}
	if c.Archive.Enabled && !c.Archive.Store.Enabled() {
		return fmt.Errorf("archive.store.storage must be local or s3 when archive is enabled")
	}
	c.Archive.Prefix = strings.Trim(strings.TrimSpace(c.Archive.Prefix), "/")
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "results"
	}
	if err := c.Inputs.validate("inputs"); err != nil {
		return err
	}
	if c.Health.CheckInterval <= 0 {
		c.Health.CheckInterval = time.Minute
	}
	if c.Health.Timeout <= 0 || c.Health.Timeout > c.Health.CheckInterval {
		c.Health.Timeout = 5 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text":
		c.Logging.Format = "text"
	case "json":
		c.Logging.Format = "json"
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

func (m *ModelConfig) validate() error {
	m.Backend = strings.ToLower(strings.TrimSpace(m.Backend))
	if m.Backend == "" {
		return fmt.Errorf("model.backend must be provided")
	}
	m.Model = strings.TrimSpace(m.Model)
	if m.Model == "" {
		return fmt.Errorf("model.model must be provided")
	}
	if strings.TrimSpace(m.TranslateModel) == "" {
		m.TranslateModel = m.Model
	}
	m.NativeLanguage = strings.ToLower(strings.TrimSpace(m.NativeLanguage))
	if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 1) {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if m.Timeout < 0 {
		return fmt.Errorf("model.timeout must be >= 0")
	}
	switch strings.ToLower(m.Local.Device) {
	case "", "auto":
		m.Local.Device = "auto"
	case "cpu", "cuda":
		m.Local.Device = strings.ToLower(m.Local.Device)
	default:
		return fmt.Errorf("model.local.device must be auto, cpu or cuda")
	}
	switch strings.ToLower(m.Local.ComputeType) {
	case "", "auto":
		m.Local.ComputeType = "auto"
	case "float16", "float32", "int8", "int8_float16":
		m.Local.ComputeType = strings.ToLower(m.Local.ComputeType)
	default:
		return fmt.Errorf("model.local.compute_type must be auto, float16, float32, int8 or int8_float16")
	}
	if m.Local.StartupTimeout <= 0 {
		m.Local.StartupTimeout = 10 * time.Minute
	}
	return nil
}

func (l LimitsConfig) validate() error {
	if l.RequestsPerMinute < 0 || l.ParallelRequests < 0 || l.UploadMBPerMinute < 0 {
		return fmt.Errorf("server.limits values must be >= 0")
	}
	return nil
}

// Enabled reports whether any per-client limit is set.
func (l LimitsConfig) Enabled() bool {
	return l.RequestsPerMinute > 0 || l.ParallelRequests > 0 || l.UploadMBPerMinute > 0
}

func (a *AudioConfig) validate() {
	if a.MaxUploadMB <= 0 {
		a.MaxUploadMB = 100
	}
	ext := strings.TrimSpace(a.DefaultExt)
	if ext == "" {
		ext = ".webm"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	a.DefaultExt = ext
}

func (b *BlobConfig) validate(path string) error {
	switch strings.ToLower(strings.TrimSpace(b.Storage)) {
	case "", "none":
		b.Storage = "none"
	case "local":
		b.Storage = "local"
		if strings.TrimSpace(b.Local.Directory) == "" {
			return fmt.Errorf("%s.local.directory must be provided for local storage", path)
		}
	case "s3":
		b.Storage = "s3"
		if strings.TrimSpace(b.S3.Bucket) == "" {
			return fmt.Errorf("%s.s3.bucket must be provided for s3 storage", path)
		}
		if (b.S3.AccessKeyID == "") != (b.S3.SecretAccessKey == "") {
			return fmt.Errorf("%s.s3 access_key_id and secret_access_key must be set together", path)
		}
	default:
		return fmt.Errorf("%s.storage must be none, local or s3", path)
	}
	return nil
}

// Enabled reports whether a store backend is configured.
func (b BlobConfig) Enabled() bool {
	return b.Storage != "" && b.Storage != "none"
}

// MaxUploadBytes converts the configured upload ceiling to bytes.
func (a AudioConfig) MaxUploadBytes() int64 {
	return int64(a.MaxUploadMB) * 1024 * 1024
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.request_timeout", "15m")
	v.SetDefault("server.read_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")
	v.SetDefault("server.limits.requests_per_minute", 0)
	v.SetDefault("server.limits.parallel_requests", 0)
	v.SetDefault("server.limits.upload_mb_per_minute", 0)

	v.SetDefault("model.backend", "openai")
	v.SetDefault("model.model", "whisper-1")
	v.SetDefault("model.native_language", "")
	v.SetDefault("model.timeout", "10m")
	v.SetDefault("model.probe", true)
	v.SetDefault("model.openai.max_retries", 0)
	v.SetDefault("model.azure.api_version", "2024-06-01")
	v.SetDefault("model.local.python", "python3")
	v.SetDefault("model.local.device", "auto")
	v.SetDefault("model.local.compute_type", "auto")
	v.SetDefault("model.local.startup_timeout", "10m")

	v.SetDefault("audio.default_ext", ".webm")
	v.SetDefault("audio.max_upload_mb", 100)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "results")
	v.SetDefault("archive.store.storage", "none")
	v.SetDefault("archive.store.local.directory", "./data/results")
	v.SetDefault("inputs.storage", "none")

	v.SetDefault("observability.service_name", "speech-relay")
	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", false)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("health.check_interval", "60s")
	v.SetDefault("health.timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
