package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate returns every problem found; an empty result means valid.
func (c *Config) Validate() []error {
	var errs []error

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	} else if err := validatePath(c.Store.Path, "store.path"); err != nil {
		errs = append(errs, err)
	}

	// Scheduler
	if c.Scheduler.TickSeconds <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_seconds must be positive (got %d)", c.Scheduler.TickSeconds))
	}
	if c.Scheduler.ReapMinutes <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.reap_minutes must be positive (got %d)", c.Scheduler.ReapMinutes))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid scheduler.timezone: %s", c.Scheduler.Timezone))
	}
	if len(c.Scheduler.Routes) == 0 {
		errs = append(errs, fmt.Errorf("scheduler.routes cannot be empty"))
	}
	for taskType, taskName := range c.Scheduler.Routes {
		if strings.TrimSpace(taskName) == "" {
			errs = append(errs, fmt.Errorf("scheduler.routes.%s has an empty task name", taskType))
		}
	}

	// Workers
	if c.Workers.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("workers.pool_size must be positive (got %d)", c.Workers.PoolSize))
	}
	if c.Workers.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("workers.queue_size must be positive (got %d)", c.Workers.QueueSize))
	}
	if c.Workers.TaskTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("workers.task_timeout_seconds cannot be negative"))
	}

	if c.Daemon.StopTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("daemon.stop_timeout_seconds must be positive (got %d)", c.Daemon.StopTimeoutSeconds))
	}

	// Agent
	switch c.Agent.Provider {
	case ProviderMock:
	case ProviderOpenAI:
		// Keyless endpoints (local servers) are allowed off the public API.
		if strings.Contains(c.LLM.OpenAI.BaseURL, "api.openai.com") {
			if err := validateAPIKey(c.LLM.OpenAI.APIKey, "llm.openai.api_key"); err != nil {
				errs = append(errs, err)
			}
		}
	default:
		errs = append(errs, fmt.Errorf("invalid agent.provider: %s (expected: %s, %s)", c.Agent.Provider, ProviderOpenAI, ProviderMock))
	}
	if c.LLM.OpenAI.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.openai.max_retries cannot be negative"))
	}
	if c.Agent.MaxReactLoop <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_react_loop must be positive (got %d)", c.Agent.MaxReactLoop))
	}
	if c.Agent.MaxCorrections <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_corrections must be positive (got %d)", c.Agent.MaxCorrections))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature must be between 0 and 2 (got %g)", c.Agent.Temperature))
	}

	if c.Tools.Fetch.Enabled && c.Tools.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("tools.fetch.timeout_seconds must be positive when fetch is enabled"))
	}
	if t := c.Tools.Sanitizer.RiskThreshold; t < 1 || t > 100 {
		errs = append(errs, fmt.Errorf("tools.sanitizer.risk_threshold must be between 1 and 100 (got %d)", t))
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}
	if c.Logging.Output == "" {
		errs = append(errs, fmt.Errorf("logging.output is required"))
	}

	return errs
}

func validateAPIKey(key, field string) error {
	if key == "" {
		return formatValidationError(field, "is required for the public API", "")
	}
	if len(key) < 10 {
		return formatValidationError(field, fmt.Sprintf("is too short (minimum 10 characters, got %d)", len(key)), key)
	}
	return nil
}

func validatePath(path, field string) error {
	if path == ":memory:" {
		return nil
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", field)
	}
	return nil
}
