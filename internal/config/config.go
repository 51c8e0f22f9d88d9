package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/ragstream/internal/domain/search/mode"
)

// Config holds the ragstream service configuration.
type Config struct {
	HTTP         HTTPConfig                `yaml:"http"`
	Auth         AuthConfig                `yaml:"auth"`
	Logging      LoggingConfig             `yaml:"logging"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Cache        CacheConfig               `yaml:"cache"`
	Search       SearchConfig              `yaml:"search"`
	Embedding    EmbeddingConfig           `yaml:"embedding"`
	Pipeline     PipelineConfig            `yaml:"pipeline"`
	Guard        GuardConfig               `yaml:"guard"`
	Rewrite      RewriteConfig             `yaml:"rewrite"`
	Retrieval    RetrievalConfig           `yaml:"retrieval"`
	Rerank       RerankConfig              `yaml:"rerank"`
	Generation   GenerationConfig          `yaml:"generation"`
	OutputFilter OutputFilterConfig        `yaml:"output_filter"`
	Variants     VariantsConfig            `yaml:"variants"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
// WriteTimeoutSec 0 means no write deadline, which long answer streams need.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	HealthCheckMs   int `yaml:"health_check_timeout_ms"`
}

// ProviderConfig holds an OpenAI-compatible provider endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// CacheConfig selects the key-value store for rewrite and embedding caches.
type CacheConfig struct {
	Driver           string   `yaml:"driver"` // redis, badger (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	Path             string   `yaml:"path"`
	InMemory         bool     `yaml:"in_memory"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
	EmbeddingTTLSec  int      `yaml:"embedding_ttl_sec"`
}

// SearchConfig selects the document index behind retrieval.
type SearchConfig struct {
	Driver       string   `yaml:"driver"` // redis, qdrant (default: redis)
	Addrs        []string `yaml:"addrs"`  // default: cache.addrs
	Password     string   `yaml:"password"`
	Index        string   `yaml:"index"`
	DocPrefix    string   `yaml:"doc_prefix"`
	QdrantAddr   string   `yaml:"qdrant_addr"`
	QdrantAPIKey string   `yaml:"qdrant_api_key"`
	Collection   string   `yaml:"collection"`
	Mode         string   `yaml:"mode"` // hybrid, semantic, keyword (default: hybrid)
	EFRuntime    int      `yaml:"ef_runtime"`
}

// EmbeddingConfig holds query embedding settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
}

// PipelineConfig holds request-wide orchestration settings.
type PipelineConfig struct {
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
	RetrieveTopK     int    `yaml:"retrieve_top_k"`
	RerankTopK       int    `yaml:"rerank_top_k"`
	MaxTopK          int    `yaml:"max_top_k"`
	StreamBuffer     int    `yaml:"stream_buffer"`
	RefusalMessage   string `yaml:"refusal_message"`
	NoResultsMessage string `yaml:"no_results_message"`
	ErrorMarker      string `yaml:"error_marker"`
}

// GuardConfig holds safety gate settings. Empty Endpoint selects local rules.
type GuardConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	TimeoutMs      int      `yaml:"timeout_ms"`
	BlockedPhrases []string `yaml:"blocked_phrases"`
	MaxQueryChars  int      `yaml:"max_query_chars"`
}

// RewriteConfig holds query rewriter settings.
type RewriteConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Provider            string `yaml:"provider"` // default: generation.provider
	Model               string `yaml:"model"`    // default: generation.model
	TimeoutMs           int    `yaml:"timeout_ms"`
	FreshTTLSec         int    `yaml:"fresh_ttl_sec"`
	StaleTTLSec         int    `yaml:"stale_ttl_sec"`
	RevalidateTimeoutMs int    `yaml:"revalidate_timeout_ms"`
}

// RetrievalConfig holds retrieval facade settings.
type RetrievalConfig struct {
	TimeoutMs      int `yaml:"timeout_ms"`
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
}

// RerankConfig holds rerank service settings. Empty Endpoint disables reranking.
type RerankConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// GenerationConfig holds generation service settings.
type GenerationConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	SystemPrompt      string  `yaml:"system_prompt"`
	Temperature       float32 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	ContextBudget     int     `yaml:"context_budget"`
	BudgetUnit        string  `yaml:"budget_unit"` // chars, tokens (default: chars)
	Encoding          string  `yaml:"encoding"`
	OpenTimeoutMs     int     `yaml:"open_timeout_ms"`
	FragmentTimeoutMs int     `yaml:"fragment_timeout_ms"`
}

// OutputFilterConfig holds streaming redaction settings.
type OutputFilterConfig struct {
	Phrases     []string `yaml:"phrases"`
	WindowChars int      `yaml:"window_chars"`
	Replacement string   `yaml:"replacement"`
}

// VariantsConfig holds the control/challenger traffic split.
type VariantsConfig struct {
	ChallengerWeight int    `yaml:"challenger_weight"` // percent, 0-100
	ChallengerModel  string `yaml:"challenger_model"`
}

// Default texts returned without generation.
const (
	DefaultRefusalMessage   = "I can't help with that request."
	DefaultNoResultsMessage = "I couldn't find any relevant information to answer your question."
	DefaultErrorMarker      = "\n[error: the response was interrupted]"
	DefaultSystemPrompt     = "Answer the question using only the provided context. " +
		"If the context does not contain the answer, say that you don't know."
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

func setPositive(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	setPositive(&c.HTTP.ReadTimeoutSec, 10)
	setPositive(&c.HTTP.HealthCheckMs, 2000)
	if c.HTTP.WriteTimeoutSec < 0 {
		c.HTTP.WriteTimeoutSec = 0
	}
	setPositive(&c.HTTP.ShutdownSec, 10)

	setDefault(&c.Cache.Driver, "redis")
	setPositive(&c.Cache.ReadinessTimeout, 10)
	setDefault(&c.Cache.KeyPrefix, "ragstream:")
	setPositive(&c.Cache.EmbeddingTTLSec, 7*24*3600)

	setDefault(&c.Search.Driver, "redis")
	if len(c.Search.Addrs) == 0 && c.Search.Driver == "redis" {
		c.Search.Addrs = c.Cache.Addrs
		setDefault(&c.Search.Password, c.Cache.Password)
	}
	setDefault(&c.Search.Index, "docs:idx")
	setDefault(&c.Search.DocPrefix, "docs:")
	setDefault(&c.Search.Collection, "docs")
	setDefault(&c.Search.Mode, "hybrid")

	setPositive(&c.Pipeline.RequestTimeoutMs, 30000)
	setPositive(&c.Pipeline.RetrieveTopK, 50)
	setPositive(&c.Pipeline.RerankTopK, 5)
	setPositive(&c.Pipeline.MaxTopK, 100)
	setPositive(&c.Pipeline.StreamBuffer, 16)
	setDefault(&c.Pipeline.RefusalMessage, DefaultRefusalMessage)
	setDefault(&c.Pipeline.NoResultsMessage, DefaultNoResultsMessage)
	setDefault(&c.Pipeline.ErrorMarker, DefaultErrorMarker)

	setPositive(&c.Guard.TimeoutMs, 2000)
	setPositive(&c.Guard.MaxQueryChars, 2000)

	setDefault(&c.Rewrite.Provider, c.Generation.Provider)
	setDefault(&c.Rewrite.Model, c.Generation.Model)
	setPositive(&c.Rewrite.TimeoutMs, 1500)
	setPositive(&c.Rewrite.FreshTTLSec, 3600)
	setPositive(&c.Rewrite.StaleTTLSec, 86400)
	setPositive(&c.Rewrite.RevalidateTimeoutMs, 3000)

	setPositive(&c.Retrieval.TimeoutMs, 2000)
	setPositive(&c.Retrieval.RetryBackoffMs, 100)

	setPositive(&c.Rerank.TimeoutMs, 1500)

	setDefault(&c.Generation.SystemPrompt, DefaultSystemPrompt)
	setPositive(&c.Generation.ContextBudget, 4000)
	setDefault(&c.Generation.BudgetUnit, "chars")
	setDefault(&c.Generation.Encoding, "cl100k_base")
	setPositive(&c.Generation.OpenTimeoutMs, 10000)
	setPositive(&c.Generation.FragmentTimeoutMs, 15000)

	setPositive(&c.OutputFilter.WindowChars, 64)
	setDefault(&c.OutputFilter.Replacement, "[redacted]")
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if err := c.validateStores(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}

	p := c.Pipeline
	if p.RerankTopK > p.RetrieveTopK {
		return fmt.Errorf("pipeline.rerank_top_k (%d) must not exceed pipeline.retrieve_top_k (%d)",
			p.RerankTopK, p.RetrieveTopK)
	}
	if p.RetrieveTopK > p.MaxTopK {
		return fmt.Errorf("pipeline.retrieve_top_k (%d) must not exceed pipeline.max_top_k (%d)",
			p.RetrieveTopK, p.MaxTopK)
	}

	switch c.Generation.BudgetUnit {
	case "chars", "tokens":
	default:
		return fmt.Errorf("generation.budget_unit must be \"chars\" or \"tokens\", got %q", c.Generation.BudgetUnit)
	}
	if c.Rewrite.FreshTTLSec > c.Rewrite.StaleTTLSec {
		return fmt.Errorf("rewrite.fresh_ttl_sec must not exceed rewrite.stale_ttl_sec")
	}
	if w := c.Variants.ChallengerWeight; w < 0 || w > 100 {
		return fmt.Errorf("variants.challenger_weight must be between 0 and 100, got %d", w)
	}
	for _, phrase := range c.OutputFilter.Phrases {
		if n := utf8.RuneCountInString(phrase); n > c.OutputFilter.WindowChars {
			return fmt.Errorf("output_filter.window_chars (%d) is shorter than phrase %q (%d chars)",
				c.OutputFilter.WindowChars, phrase, n)
		}
	}
	return nil
}

func (c *Config) validateStores() error {
	switch c.Cache.Driver {
	case "redis":
		if len(c.Cache.Addrs) == 0 {
			return fmt.Errorf("cache.addrs is required for the redis driver")
		}
	case "badger":
		if c.Cache.Path == "" && !c.Cache.InMemory {
			return fmt.Errorf("cache.path is required for the badger driver unless in_memory is set")
		}
	default:
		return fmt.Errorf("cache.driver must be \"redis\" or \"badger\", got %q", c.Cache.Driver)
	}

	m, err := mode.Parse(c.Search.Mode)
	if err != nil {
		return fmt.Errorf("search.mode: %w", err)
	}
	c.Search.Mode = string(m)
	switch c.Search.Driver {
	case "redis":
		if len(c.Search.Addrs) == 0 {
			return fmt.Errorf("search.addrs is required for the redis driver")
		}
	case "qdrant":
		if c.Search.QdrantAddr == "" {
			return fmt.Errorf("search.qdrant_addr is required for the qdrant driver")
		}
		if c.Search.Mode != "semantic" {
			return fmt.Errorf("search.driver qdrant supports only semantic mode, got %q", c.Search.Mode)
		}
	default:
		return fmt.Errorf("search.driver must be \"redis\" or \"qdrant\", got %q", c.Search.Driver)
	}
	return nil
}

func (c *Config) validateProviders() error {
	need := map[string]string{"generation.provider": c.Generation.Provider}
	if c.Search.Mode != "keyword" {
		need["embedding.provider"] = c.Embedding.Provider
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required")
		}
	}
	if c.Rewrite.Enabled {
		need["rewrite.provider"] = c.Rewrite.Provider
	}
	for field, name := range need {
		if name == "" {
			return fmt.Errorf("%s is required", field)
		}
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("%s references unknown provider %q", field, name)
		}
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("generation.model is required")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// HealthCheckTimeout bounds each readiness probe.
func (h HTTPConfig) HealthCheckTimeout() time.Duration { return ms(h.HealthCheckMs) }

// RequestTimeout is the whole-request budget.
func (p PipelineConfig) RequestTimeout() time.Duration { return ms(p.RequestTimeoutMs) }

// Timeout is the safety gate call budget.
func (g GuardConfig) Timeout() time.Duration { return ms(g.TimeoutMs) }

// Timeout is the rewrite backend call budget.
func (r RewriteConfig) Timeout() time.Duration { return ms(r.TimeoutMs) }

// FreshTTL is how long an entry is served without revalidation.
func (r RewriteConfig) FreshTTL() time.Duration { return time.Duration(r.FreshTTLSec) * time.Second }

// StaleTTL is the hard expiry of an entry.
func (r RewriteConfig) StaleTTL() time.Duration { return time.Duration(r.StaleTTLSec) * time.Second }

// RevalidateTimeout bounds a background refresh.
func (r RewriteConfig) RevalidateTimeout() time.Duration { return ms(r.RevalidateTimeoutMs) }

// Timeout is the per-attempt retrieval budget.
func (r RetrievalConfig) Timeout() time.Duration { return ms(r.TimeoutMs) }

// RetryBackoff is the pause before the single retry.
func (r RetrievalConfig) RetryBackoff() time.Duration { return ms(r.RetryBackoffMs) }

// Timeout is the rerank call budget.
func (r RerankConfig) Timeout() time.Duration { return ms(r.TimeoutMs) }

// OpenTimeout bounds stream creation.
func (g GenerationConfig) OpenTimeout() time.Duration { return ms(g.OpenTimeoutMs) }

// FragmentTimeout bounds the wait for each streamed fragment.
func (g GenerationConfig) FragmentTimeout() time.Duration { return ms(g.FragmentTimeoutMs) }

// EmbeddingTTL is the lifetime of a cached query embedding.
func (c CacheConfig) EmbeddingTTL() time.Duration { return time.Duration(c.EmbeddingTTLSec) * time.Second }

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
