package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Session SessionConfig `yaml:"session"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type EngineConfig struct {
	// Endpoint of the backing agent service. Empty means no real engine
	// is configured and sessions fall back to the scripted stand-in.
	Endpoint        string              `yaml:"endpoint"`
	WorkspaceMount  string              `yaml:"workspace_mount"`
	MaxIterations   int                 `yaml:"max_iterations"`
	HealthTimeout   time.Duration       `yaml:"health_timeout"`
	DefaultProvider string              `yaml:"default_provider"`
	Providers       map[string]Provider `yaml:"providers"`
}

// Provider names a model and the environment variable its API key is read
// from when the client does not supply one.
type Provider struct {
	Model  string `yaml:"model"`
	EnvKey string `yaml:"env_key"`
}

type SessionConfig struct {
	ChannelCapacity  int           `yaml:"channel_capacity"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WorkspaceRoot    string        `yaml:"workspace_root"`
	// Admission is "always" (fresh session per request) or "per_owner"
	// (at most one live session per owner key).
	Admission string `yaml:"admission"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Engine: EngineConfig{
			WorkspaceMount:  "/workspace",
			MaxIterations:   50,
			HealthTimeout:   30 * time.Second,
			DefaultProvider: "anthropic",
			Providers: map[string]Provider{
				"anthropic": {Model: "anthropic/claude-3-5-sonnet-20241022", EnvKey: "ANTHROPIC_API_KEY"},
				"google":    {Model: "gemini/gemini-3-flash-preview", EnvKey: "GOOGLE_API_KEY"},
			},
		},
		Session: SessionConfig{
			ChannelCapacity:  100,
			PollInterval:     time.Second,
			HandshakeTimeout: 30 * time.Second,
			WorkspaceRoot:    "/tmp/agent-broker",
			Admission:        "always",
		},
	}
}

// ResolveProvider returns the provider config and the API key to use with
// it. Resolution order: the caller-supplied key, the provider's env var,
// then the generic LLM_API_KEY fallback. A missing key is an error so the
// caller can reject the request before any session exists.
func (c *Config) ResolveProvider(name, userKey string) (Provider, string, error) {
	if name == "" {
		name = c.Engine.DefaultProvider
	}
	p, ok := c.Engine.Providers[name]
	if !ok {
		return Provider{}, "", fmt.Errorf("unsupported model provider %q", name)
	}

	key := userKey
	if key == "" {
		key = os.Getenv(p.EnvKey)
	}
	if key == "" {
		key = os.Getenv("LLM_API_KEY")
	}
	if key == "" {
		return Provider{}, "", fmt.Errorf("no API key for provider %q: set %s or supply one in the request", name, p.EnvKey)
	}

	return p, key, nil
}
