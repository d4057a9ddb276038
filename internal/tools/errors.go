package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aatumaykin/nexbeat/internal/logger"
)

// Error codes carried by ToolError.
const (
	CodeNotFound   = "TOOL_NOT_FOUND"
	CodeInvalid    = "INVALID_ARGUMENTS"
	CodeTimeout    = "TIMEOUT"
	CodeCancelled  = "CANCELLED"
	CodeExecution  = "EXECUTION_FAILED"
	CodeDisabled   = "TOOL_DISABLED"
	CodeUnsafe     = "UNSAFE_OUTPUT"
	CodeCrash      = "TOOL_CRASH"
	CodeUpstream   = "UPSTREAM_ERROR"
	CodeTooLarge   = "RESPONSE_TOO_LARGE"
	CodePermission = "PERMISSION_DENIED"
)

// ToolError - структурированная ошибка выполнения инструмента
type ToolError struct {
	Code       string         `json:"code"`                 // Код ошибки для программной обработки
	Message    string         `json:"message"`              // Человекочитаемое сообщение
	Details    map[string]any `json:"details,omitempty"`    // Дополнительные детали
	Suggestion string         `json:"suggestion,omitempty"` // Предложение по исправлению
}

// Error реализует интерфейс error
func (e *ToolError) Error() string {
	return e.Message
}

// ToLLMContext возвращает структурированное описание для LLM
func (e *ToolError) ToLLMContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool Error:\n - Code: %s\n - Message: %s", e.Code, e.Message)

	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n - Suggestion: %s", e.Suggestion)
	}

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n - Details:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n     - %s: %v", k, e.Details[k])
		}
	}

	return b.String()
}

// LogFields возвращает поля для структурированного логирования
func (e *ToolError) LogFields() []logger.Field {
	fields := []logger.Field{
		{Key: "error_code", Value: e.Code},
		{Key: "error_message", Value: e.Message},
	}
	if e.Suggestion != "" {
		fields = append(fields, logger.Field{Key: "error_suggestion", Value: e.Suggestion})
	}
	return fields
}

// NewNotFoundError создает ошибку "не найдено"
func NewNotFoundError(code, message, suggestion string) *ToolError {
	return &ToolError{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// NewTimeoutError создает ошибку "таймаут"
func NewTimeoutError(message string, details map[string]any) *ToolError {
	return &ToolError{
		Code:    CodeTimeout,
		Message: message,
		Details: details,
	}
}

// NewValidationError создает ошибку валидации
func NewValidationError(message string, details map[string]any) *ToolError {
	return &ToolError{
		Code:    CodeInvalid,
		Message: message,
		Details: details,
	}
}

// NewExecutionError создает ошибку выполнения
func NewExecutionError(message, suggestion string) *ToolError {
	return &ToolError{
		Code:       CodeExecution,
		Message:    message,
		Suggestion: suggestion,
	}
}
