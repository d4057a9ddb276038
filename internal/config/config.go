package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is where the CLI looks for the configuration file.
const DefaultPath = "~/.nexbeat/config.toml"

// Provider names accepted by agent.provider.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// DefaultRoutes maps the known task types to worker task names.
func DefaultRoutes() map[string]string {
	return map[string]string{
		"post":             "post_task",
		"reply":            "reply_task",
		"retweet":          "retweet_task",
		"like":             "like_task",
		"analytics":        "analytics_task",
		"scheduled_thread": "thread_task",
		"other":            "generic_task",
	}
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Scheduler: SchedulerConfig{Routes: DefaultRoutes()},
		LLM:       LLMConfig{OpenAI: OpenAIConfig{MaxRetries: 2}},
		Tools: ToolsConfig{
			Fetch: FetchToolConfig{Enabled: true},
		},
	}
	applyDefaults(cfg)
	expandEnvVars(cfg)
	return cfg
}

// Load reads the TOML file at path over the defaults. A missing file
// yields the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(expandHome(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}

	applyDefaults(cfg)
	expandEnvVars(cfg)
	return cfg, nil
}

// applyDefaults fills zero values.
func applyDefaults(c *Config) {
	if c.Store.Path == "" {
		c.Store.Path = "~/.nexbeat/nexbeat.db"
	}

	if c.Scheduler.TickSeconds == 0 {
		c.Scheduler.TickSeconds = 5
	}
	if c.Scheduler.ReapMinutes == 0 {
		c.Scheduler.ReapMinutes = 30
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Scheduler.PokeFile == "" {
		c.Scheduler.PokeFile = "~/.nexbeat/beat.poke"
	}
	if c.Scheduler.Routes == nil {
		c.Scheduler.Routes = DefaultRoutes()
	}

	if c.Workers.PoolSize == 0 {
		c.Workers.PoolSize = 4
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = 64
	}

	if c.Daemon.LogFile == "" {
		c.Daemon.LogFile = "~/.nexbeat/scheduler.log"
	}
	if c.Daemon.StopTimeoutSeconds == 0 {
		c.Daemon.StopTimeoutSeconds = 5
	}

	if c.Agent.Provider == "" {
		c.Agent.Provider = ProviderOpenAI
	}
	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4o-mini"
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = 0.7
	}
	if c.Agent.MaxReactLoop == 0 {
		c.Agent.MaxReactLoop = 5
	}
	if c.Agent.MaxCorrections == 0 {
		c.Agent.MaxCorrections = 5
	}
	if c.Agent.ToolTimeoutSeconds == 0 {
		c.Agent.ToolTimeoutSeconds = 30
	}

	if c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = "${OPENAI_API_KEY}"
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.OpenAI.TimeoutSeconds == 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}

	if c.Tools.Fetch.TimeoutSeconds == 0 {
		c.Tools.Fetch.TimeoutSeconds = 30
	}
	if c.Tools.Fetch.MaxResponseSize == 0 {
		c.Tools.Fetch.MaxResponseSize = 5 * 1024 * 1024
	}
	if c.Tools.Fetch.UserAgent == "" {
		c.Tools.Fetch.UserAgent = "nexbeat/1.0"
	}
	if c.Tools.Sanitizer.RiskThreshold == 0 {
		c.Tools.Sanitizer.RiskThreshold = 70
	}

	if c.Workflows.Dir == "" {
		c.Workflows.Dir = "~/.nexbeat/workflows"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

// expandEnvVars expands ${VAR:default} references and a leading ~ in paths.
func expandEnvVars(c *Config) {
	for _, s := range []*string{
		&c.LLM.OpenAI.APIKey,
		&c.LLM.OpenAI.BaseURL,
		&c.Agent.Model,
		&c.Daemon.MetricsAddr,
	} {
		*s = expandEnv(*s)
	}

	for _, p := range []*string{
		&c.Store.Path,
		&c.Scheduler.PokeFile,
		&c.Daemon.LogFile,
		&c.Agent.TranscriptsDir,
		&c.Workflows.Dir,
		&c.Logging.Output,
	} {
		*p = expandHome(expandEnv(*p))
	}
}

// expandEnv expands a value of the form ${VAR} or ${VAR:default}.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if key, defaultVal, ok := strings.Cut(content, ":"); ok {
		if val := os.Getenv(key); val != "" {
			return val + s[end+1:]
		}
		return defaultVal + s[end+1:]
	}
	return os.Getenv(content) + s[end+1:]
}

// expandHome expands a leading ~ in path.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// ExpandPath expands ${VAR} references and a leading ~ in path.
func ExpandPath(path string) string {
	return expandHome(expandEnv(path))
}

// Location returns the scheduler timezone, UTC when it does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Tick returns the beat period.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// ReapAfter returns the stuck-row threshold.
func (c *Config) ReapAfter() time.Duration {
	return time.Duration(c.Scheduler.ReapMinutes) * time.Minute
}

// TaskNames returns the distinct routed task names, sorted.
func (c *Config) TaskNames() []string {
	names := slices.Collect(maps.Values(c.Scheduler.Routes))
	slices.Sort(names)
	return slices.Compact(names)
}
