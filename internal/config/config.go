package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Backend holds connection settings for one backend family.
type Backend struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	APIVersion string `json:"api_version,omitempty"`
}

// MCPServer is a tool server reachable over JSON-RPC.
type MCPServer struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Config struct {
	DataDir       string   `json:"data_dir"`
	LogLevel      string   `json:"log_level"`
	Listen        string   `json:"listen"`
	MaxConcurrent int      `json:"max_concurrent"`
	DefaultModels []string `json:"default_models"`
	WorkflowsDir  string   `json:"workflows_dir"`
	PollSeconds   int      `json:"poll_seconds"`
	AutosaveMS    int      `json:"autosave_ms"`

	Context struct {
		MaxContextTokens int    `json:"max_context_tokens"`
		OutputReserve    int    `json:"output_reserve"`
	} `json:"context"`

	Backends struct {
		Azure     Backend `json:"azure"`
		Anthropic Backend `json:"anthropic"`
		Gemini    Backend `json:"gemini"`
	} `json:"backends"`

	MCP struct {
		Servers []MCPServer `json:"servers"`
	} `json:"mcp"`

	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`

	Blob struct {
		Endpoint  string `json:"endpoint"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
		Bucket    string `json:"bucket"`
		Region    string `json:"region"`
		UseSSL    bool   `json:"use_ssl"`
	} `json:"blob"`

	Search struct {
		Top          int    `json:"top"`
		SerpAPIKey   string `json:"serp_api_key"`
		SerpEndpoint string `json:"serp_endpoint"`
	} `json:"search"`

	Scraper struct {
		Endpoint string `json:"endpoint"`
	} `json:"scraper"`
}

// DefaultPath returns ~/.multichat/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".multichat", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".multichat"),
		LogLevel:      "info",
		Listen:        ":8080",
		MaxConcurrent: 4,
		DefaultModels: []string{"azure-gpt-4o"},
		PollSeconds:   5,
		AutosaveMS:    2000,
	}
	cfg.Context.MaxContextTokens = 128000
	cfg.Context.OutputReserve = 4096
	cfg.Backends.Azure.APIVersion = "2024-02-15-preview"
	cfg.Backends.Anthropic.BaseURL = "https://api.anthropic.com/v1"
	cfg.Backends.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Blob.Bucket = "multichat"
	cfg.Search.Top = 5
	cfg.Search.SerpEndpoint = "https://serpapi.com/search"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides file values from the environment (highest precedence).
func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Backends.Azure.APIKey, "AZURE_OPENAI_API_KEY")
	set(&cfg.Backends.Azure.BaseURL, "AZURE_OPENAI_ENDPOINT")
	set(&cfg.Backends.Azure.APIVersion, "AZURE_OPENAI_API_VERSION")
	set(&cfg.Backends.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	set(&cfg.Backends.Gemini.APIKey, "GEMINI_API_KEY")
	set(&cfg.Redis.Addr, "REDIS_ADDR")
	set(&cfg.Redis.Password, "REDIS_PASSWORD")
	set(&cfg.Blob.Endpoint, "MINIO_ENDPOINT")
	set(&cfg.Blob.AccessKey, "MINIO_ACCESS_KEY")
	set(&cfg.Blob.SecretKey, "MINIO_SECRET_KEY")
	set(&cfg.Search.SerpAPIKey, "SERP_API_KEY")
	set(&cfg.Scraper.Endpoint, "SCRAPER_ENDPOINT")
	set(&cfg.Listen, "MULTICHAT_LISTEN")
	if v := os.Getenv("MULTICHAT_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}
	}
}

// PollInterval is the shared-session refresh period.
func (c *Config) PollInterval() time.Duration {
	if c.PollSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PollSeconds) * time.Second
}

// AutosaveDelay is the debounce before an idle session is written.
func (c *Config) AutosaveDelay() time.Duration {
	if c.AutosaveMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.AutosaveMS) * time.Millisecond
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every config value keyed by its dotted path.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dotted key from the file at path, writing defaults
// first if the file does not exist. Keys unknown to Config are kept.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readFlat(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dotted key. value is parsed as JSON when possible,
// so "16" becomes a number and "true" a bool; anything else is a string.
func SetValue(path, key, value string) error {
	flat, err := readFlat(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func readFlat(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Flatten(m), nil
}
