// Package sanitizer screens untrusted tool output (fetched pages, third
// party payloads) for prompt-injection patterns before it reaches an agent.
package sanitizer

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"
)

const DefaultRiskThreshold = 30

// maxSuspiciousLength is the size above which content earns extra risk.
const maxSuspiciousLength = 100000

type Config struct {
	RiskThreshold int
}

type pattern struct {
	re         *re2.Regexp
	kind       string
	riskWeight int
}

var dangerousPatterns = []pattern{
	{re2.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|rules?|prompts?)`), "role_manipulation", 30},
	{re2.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior)\s+(instructions?|rules?|prompts?)`), "role_manipulation", 30},
	{re2.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+(assistant|system|ai|expert)`), "role_manipulation", 25},
	{re2.MustCompile(`(?i)new\s+instructions?\s*:\s*\n`), "direct_injection", 25},
	{re2.MustCompile(`(?i)override\s+(previous|prior|default|system)\s+(instructions?|rules?)`), "direct_injection", 25},
	{re2.MustCompile(`(?i)"?final_answer"?\s*:`), "answer_forgery", 30},
	{re2.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`), "encoded_injection", 15},
	{re2.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}]`), "encoded_injection", 20},
	{re2.MustCompile(`<\|(?:system|assistant|user|im_start|im_end)[^|]*\|>`), "delimiter_attack", 25},
	{re2.MustCompile(`(?i)</?\s*(system|assistant|instructions?)\s*>`), "delimiter_attack", 25},
}

// Validator scores content against the known patterns.
type Validator struct {
	config Config
}

func New(cfg Config) *Validator {
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = DefaultRiskThreshold
	}
	return &Validator{config: cfg}
}

type Result struct {
	Safe      bool
	Detected  []string
	RiskScore int
}

func (v *Validator) Validate(content string) Result {
	result := Result{Safe: true}
	if content == "" {
		return result
	}

	normalized := normalizeForDetection(content)
	for _, p := range dangerousPatterns {
		if p.re.MatchString(normalized) {
			result.Detected = append(result.Detected, p.kind)
			result.RiskScore += p.riskWeight
		}
	}

	if float64(countControlChars(content))/float64(len(content)+1) > 0.1 {
		result.Detected = append(result.Detected, "high_control_char_ratio")
		result.RiskScore += 25
	}

	if len(content) > maxSuspiciousLength {
		result.Detected = append(result.Detected, "suspicious_length")
		result.RiskScore += 10
	}

	result.Safe = result.RiskScore < v.config.RiskThreshold
	return result
}

func countControlChars(s string) int {
	count := 0
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			count++
		}
	}
	return count
}

func normalizeForDetection(s string) string {
	normalized := norm.NFKC.String(s)

	var b strings.Builder
	for _, r := range normalized {
		if r >= 32 || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// Redact replaces every pattern match with [REDACTED].
func Redact(content string) string {
	for _, p := range dangerousPatterns {
		content = p.re.ReplaceAllString(content, "[REDACTED]")
	}
	return content
}

// WrapExternal fences content between random markers so prompts can refer
// to it as data.
func WrapExternal(content string) string {
	marker := "[EXTERNAL_DATA:" + uuid.NewString()[:8] + "]"
	return marker + "\n" + content + "\n" + marker
}

// SanitizeToolOutput blocks unsafe output, redacts low-risk matches and
// wraps the rest as external data.
func (v *Validator) SanitizeToolOutput(output string) string {
	if res := v.Validate(output); !res.Safe {
		return fmt.Sprintf("[SANITIZED - risk: %d, patterns: %v]", res.RiskScore, res.Detected)
	}
	return WrapExternal(Redact(output))
}

// IsSanitized reports whether output was blocked by SanitizeToolOutput.
func IsSanitized(output string) bool {
	return strings.HasPrefix(output, "[SANITIZED")
}
