package config

import (
	"strings"
)

// maskSecret keeps the first and last 4 characters of a secret
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// Redacted returns a copy of c safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.LLM.OpenAI.APIKey = maskSecret(c.LLM.OpenAI.APIKey)
	return &out
}

// formatValidationError builds a ValidationError that shows secrets masked.
func formatValidationError(field, message, secret string) error {
	msg := field + " " + message
	if masked := maskSecret(secret); masked != "" {
		msg += " (value: " + masked + ")"
	}
	return &ValidationError{Field: field, Message: msg}
}

// ValidationError is a validation problem tied to one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
