package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig marks configuration that must stop the process at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// Bounds enforced on generation parameters.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Config aggregates the process-wide configuration. It is read once at startup
// and never mutated afterwards.
type Config struct {
	Server     ServerConfig
	Model      ModelConfig
	Generation GenerationConfig
	Session    SessionConfig
	Redis      RedisConfig
	Log        LogConfig
	PersonaID  string
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	modelCfg, err := loadModelConfig()
	if err != nil {
		return nil, err
	}

	generation, err := loadGenerationConfig()
	if err != nil {
		return nil, err
	}

	sess, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:     server,
		Model:      modelCfg,
		Generation: generation,
		Session:    sess,
		Redis:      redisCfg,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "console"),
		},
		PersonaID: getEnvOrDefault("CHAT_PERSONA", "travel-planner"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values outside their allowed ranges. Nothing is clamped.
func (c *Config) Validate() error {
	var errs []error

	if c.Model.Path == "" {
		errs = append(errs, errors.New("MODEL_PATH is required"))
	}
	if c.Model.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("N_CTX must be positive, got %d", c.Model.ContextWindow))
	}
	if c.Model.Threads <= 0 {
		errs = append(errs, fmt.Errorf("N_THREADS must be positive, got %d", c.Model.Threads))
	}
	if c.Model.GPULayers < 0 {
		errs = append(errs, fmt.Errorf("N_GPU_LAYERS must not be negative, got %d", c.Model.GPULayers))
	}
	if len(c.Model.Backends) == 0 {
		errs = append(errs, errors.New("MODEL_BACKENDS must name at least one backend"))
	}

	g := c.Generation
	if !isFinite(g.Temperature) || g.Temperature < MinTemperature || g.Temperature > MaxTemperature {
		errs = append(errs, fmt.Errorf("MODEL_TEMPERATURE must be within [%.1f, %.1f], got %v", MinTemperature, MaxTemperature, g.Temperature))
	}
	if g.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("MODEL_MAX_TOKENS must be positive, got %d", g.MaxTokens))
	} else if c.Model.ContextWindow > 0 && g.MaxTokens > c.Model.ContextWindow {
		errs = append(errs, fmt.Errorf("MODEL_MAX_TOKENS (%d) exceeds N_CTX (%d)", g.MaxTokens, c.Model.ContextWindow))
	}
	if !isFinite(g.TopP) || g.TopP <= 0 || g.TopP > 1 {
		errs = append(errs, fmt.Errorf("MODEL_TOP_P must be within (0, 1], got %v", g.TopP))
	}
	if g.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("MODEL_POOL_SIZE must be positive, got %d", g.PoolSize))
	}
	if g.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("GENERATION_TIMEOUT must be positive, got %s", g.Timeout))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("CONVERSATION_TTL_MINUTES must be positive, got %s", c.Session.TTL))
	}
	if c.Session.MaxMessages <= 0 {
		errs = append(errs, fmt.Errorf("CONVERSATION_HISTORY_LIMIT must be positive, got %d", c.Session.MaxMessages))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// accept ":8000" or "127.0.0.1:8000" verbatim
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("%w: invalid PORT value: %q", ErrInvalidConfig, port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ModelConfig holds load-time settings for the generative model.
type ModelConfig struct {
	Path          string
	ContextWindow int
	Threads       int
	GPULayers     int
	Backends      []string

	LlamaServerBin     string
	LlamaServerAddr    string
	LlamaServerStartup time.Duration

	// FallbackCommand starts the secondary runtime; the model flags are
	// appended to it.
	FallbackCommand []string
	FallbackAddr    string
	FallbackAPIKey  string
}

// Name is the model identifier advertised to OpenAI-compatible servers.
func (c ModelConfig) Name() string {
	return strings.TrimSuffix(filepath.Base(c.Path), filepath.Ext(c.Path))
}

func loadModelConfig() (ModelConfig, error) {
	nCtx, err := parseIntEnvDefault("N_CTX", 2048)
	if err != nil {
		return ModelConfig{}, err
	}
	threads, err := parseIntEnvDefault("N_THREADS", 4)
	if err != nil {
		return ModelConfig{}, err
	}
	gpuLayers, err := parseIntEnvDefault("N_GPU_LAYERS", 0)
	if err != nil {
		return ModelConfig{}, err
	}
	startup, err := parseDurationEnvDefault("LLAMA_SERVER_STARTUP_TIMEOUT", time.Minute)
	if err != nil {
		return ModelConfig{}, err
	}

	path := getEnvOrDefault("MODEL_PATH", "Llama-3.2-3B-Instruct-Q8_0.gguf")
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	return ModelConfig{
		Path:               path,
		ContextWindow:      nCtx,
		Threads:            threads,
		GPULayers:          gpuLayers,
		Backends:           parseList(getEnvOrDefault("MODEL_BACKENDS", "llama-server,chat-endpoint")),
		LlamaServerBin:     getEnvOrDefault("LLAMA_SERVER_BIN", "llama-server"),
		LlamaServerAddr:    getEnvOrDefault("LLAMA_SERVER_ADDR", "127.0.0.1:8081"),
		LlamaServerStartup: startup,
		FallbackCommand:    strings.Fields(getEnvOrDefault("FALLBACK_SERVER_CMD", "python3 -m llama_cpp.server")),
		FallbackAddr:       getEnvOrDefault("FALLBACK_SERVER_ADDR", "127.0.0.1:8082"),
		FallbackAPIKey:     getEnvOrDefault("FALLBACK_API_KEY", "local"),
	}, nil
}

// GenerationConfig holds the default per-call generation parameters.
type GenerationConfig struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	PoolSize    int
	Timeout     time.Duration
}

func loadGenerationConfig() (GenerationConfig, error) {
	temperature, err := parseOptionalFloatEnv("MODEL_TEMPERATURE")
	if err != nil {
		return GenerationConfig{}, err
	}
	topP, err := parseOptionalFloatEnv("MODEL_TOP_P")
	if err != nil {
		return GenerationConfig{}, err
	}
	maxTokens, err := parseIntEnvDefault("MODEL_MAX_TOKENS", 100)
	if err != nil {
		return GenerationConfig{}, err
	}
	pool, err := parseIntEnvDefault("MODEL_POOL_SIZE", 1)
	if err != nil {
		return GenerationConfig{}, err
	}
	timeout, err := parseDurationEnvDefault("GENERATION_TIMEOUT", time.Minute)
	if err != nil {
		return GenerationConfig{}, err
	}

	cfg := GenerationConfig{
		Temperature: 0.5,
		MaxTokens:   maxTokens,
		TopP:        0.9,
		PoolSize:    pool,
		Timeout:     timeout,
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}
	if topP != nil {
		cfg.TopP = *topP
	}
	return cfg, nil
}

// SessionConfig bounds conversation memory.
type SessionConfig struct {
	TTL           time.Duration
	MaxMessages   int
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttlMinutes, err := parseIntEnvDefault("CONVERSATION_TTL_MINUTES", 30)
	if err != nil {
		return SessionConfig{}, err
	}
	limit, err := parseIntEnvDefault("CONVERSATION_HISTORY_LIMIT", 20)
	if err != nil {
		return SessionConfig{}, err
	}
	sweep, err := parseDurationEnvDefault("SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		TTL:           time.Duration(ttlMinutes) * time.Minute,
		MaxMessages:   limit,
		SweepInterval: sweep,
	}, nil
}

// RedisConfig switches session storage to Redis when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was supplied.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func loadRedisConfig() (RedisConfig, error) {
	db, err := parseIntEnvDefault("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

// LogConfig selects log level and output format ("console" or "json").
type LogConfig struct {
	Level  string
	Format string
}

// isFinite rejects NaN and infinities, which slip past range comparisons.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s value %q: %w", ErrInvalidConfig, key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s value %q: %w", ErrInvalidConfig, key, value, err)
	}
	return &val, nil
}

func parseIntEnvDefault(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnvDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s value %q: %w", ErrInvalidConfig, key, value, err)
	}
	return d, nil
}
