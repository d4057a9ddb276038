// Package config provides configuration loading and validation for nexbeat.
// It supports TOML configuration files with environment variable expansion,
// default values, and validation that reports every problem at once.
//
// Configuration structure:
//   - [store]: SQLite database path
//   - [scheduler]: beat tick, reaper threshold, timezone, task type routes
//   - [workers]: worker pool size and queue
//   - [daemon]: detached scheduler log file, stop timeout, metrics listener
//   - [agent]: provider, model and loop budgets of workflow roles
//   - [llm]: provider settings (OpenAI-compatible)
//   - [tools]: tool settings (fetch, output sanitizer)
//   - [workflows]: directory of YAML workflow definitions
//   - [logging]: logging level, format, and output
//
// Environment variables:
// String values can reference environment variables with ${VAR} or
// ${VAR:default}. For example: api_key = "${OPENAI_API_KEY}"
package config

// Config represents the main application configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Workers   WorkersConfig   `toml:"workers"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Agent     AgentConfig     `toml:"agent"`
	LLM       LLMConfig       `toml:"llm"`
	Tools     ToolsConfig     `toml:"tools"`
	Workflows WorkflowsConfig `toml:"workflows"`
	Logging   LoggingConfig   `toml:"logging"`
}

// StoreConfig locates the schedule database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// SchedulerConfig tunes the beat loop.
type SchedulerConfig struct {
	TickSeconds int    `toml:"tick_seconds"`
	ReapMinutes int    `toml:"reap_minutes"`
	Timezone    string `toml:"timezone"`
	PokeFile    string `toml:"poke_file"`
	// Routes maps task_type to the worker task name. Entries merge over
	// the defaults.
	Routes map[string]string `toml:"routes"`
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	PoolSize           int `toml:"pool_size"`
	QueueSize          int `toml:"queue_size"`
	TaskTimeoutSeconds int `toml:"task_timeout_seconds"`
}

// DaemonConfig tunes the detached scheduler process.
type DaemonConfig struct {
	LogFile            string `toml:"log_file"`
	StopTimeoutSeconds int    `toml:"stop_timeout_seconds"`
	// MetricsAddr enables the Prometheus endpoint when set, e.g. ":9464".
	MetricsAddr string `toml:"metrics_addr"`
}

// AgentConfig configures the roles that workflows run.
type AgentConfig struct {
	Provider           string  `toml:"provider"`
	Model              string  `toml:"model"`
	MaxTokens          int     `toml:"max_tokens"`
	Temperature        float64 `toml:"temperature"`
	MaxReactLoop       int     `toml:"max_react_loop"`
	MaxCorrections     int     `toml:"max_corrections"`
	ToolTimeoutSeconds int     `toml:"tool_timeout_seconds"`
	// TranscriptsDir receives one JSONL transcript per job run when set.
	TranscriptsDir string `toml:"transcripts_dir"`
}

// LLMConfig holds provider settings.
type LLMConfig struct {
	OpenAI OpenAIConfig `toml:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	// MaxRetries retries rate-limited, 5xx and timed-out requests.
	MaxRetries int `toml:"max_retries"`
}

// ToolsConfig holds tool settings.
type ToolsConfig struct {
	Fetch     FetchToolConfig `toml:"fetch"`
	Sanitizer SanitizerConfig `toml:"sanitizer"`
}

// FetchToolConfig configures the web_fetch tool.
type FetchToolConfig struct {
	Enabled         bool   `toml:"enabled"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxResponseSize int64  `toml:"max_response_size"`
	UserAgent       string `toml:"user_agent"`
}

// SanitizerConfig tunes the filter applied to external tool output.
type SanitizerConfig struct {
	RiskThreshold int `toml:"risk_threshold"`
}

// WorkflowsConfig locates workflow definitions.
type WorkflowsConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}
