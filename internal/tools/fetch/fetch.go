// Package fetch implements the web_fetch tool.
package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/aatumaykin/nexbeat/internal/logger"
)

// Config controls the tool.
type Config struct {
	Enabled         bool
	TimeoutSeconds  int
	MaxResponseSize int64
	UserAgent       string
}

// DefaultConfig returns the defaults used when config is missing.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TimeoutSeconds:  30,
		MaxResponseSize: 5 * 1024 * 1024,
		UserAgent:       "nexbeat/1.0",
	}
}

var (
	reSpace         = regexp.MustCompile(`[ \t]+`)
	reCleanNewlines = regexp.MustCompile(`\n{3,}`)
)

type FetchTool struct {
	cfg    Config
	client *http.Client
	logger *logger.Logger
}

type FetchArgs struct {
	URL             string            `json:"url"`
	Format          string            `json:"format"`
	Headers         map[string]string `json:"headers"`
	Method          string            `json:"method"`
	Body            string            `json:"body"`
	BasicAuth       *BasicAuth        `json:"basicAuth"`
	FollowRedirects *bool             `json:"followRedirects"`
	Timeout         *int              `json:"timeout"`
}

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func NewFetchTool(cfg Config, log *logger.Logger) *FetchTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultConfig().TimeoutSeconds
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultConfig().MaxResponseSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	return &FetchTool{
		cfg:    cfg,
		client: &http.Client{},
		logger: log,
	}
}

func (t *FetchTool) Name() string {
	return "web_fetch"
}

func (t *FetchTool) Description() string {
	return "Fetch content from a URL. Returns formatted text with metadata."
}

func (t *FetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch. Must start with http:// or https://",
			},
			"format": map[string]any{
				"type":        "string",
				"enum":        []string{"text", "html", "markdown", "json"},
				"default":     "text",
				"description": "Output format: 'text' (strips HTML tags), 'html' (raw HTML), 'markdown' (converts HTML to Markdown), or 'json' (parse JSON response)",
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "Optional HTTP headers.",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"basicAuth": map[string]any{
				"type":        "object",
				"description": "Optional Basic Authentication.",
				"properties": map[string]any{
					"username": map[string]any{"type": "string"},
					"password": map[string]any{"type": "string"},
				},
			},
			"followRedirects": map[string]any{
				"type":        "boolean",
				"default":     true,
				"description": "Follow HTTP redirects.",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (1-120). Omit to use the default.",
				"minimum":     1,
				"maximum":     120,
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default": "GET",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body (for POST, PUT, PATCH methods)",
			},
		},
		"required": []any{"url"},
	}
}

func (t *FetchTool) Execute(ctx context.Context, args string) (string, error) {
	var fetchArgs FetchArgs
	if err := json.Unmarshal([]byte(args), &fetchArgs); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}

	if !t.cfg.Enabled {
		return "", fmt.Errorf("web_fetch tool is disabled in configuration")
	}
	if fetchArgs.URL == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(fetchArgs.URL, "http://") && !strings.HasPrefix(fetchArgs.URL, "https://") {
		return "", fmt.Errorf("url must start with http:// or https://")
	}
	if fetchArgs.Format == "" {
		fetchArgs.Format = "text"
	}
	if fetchArgs.Method == "" {
		fetchArgs.Method = http.MethodGet
	}
	if fetchArgs.Body != "" && (fetchArgs.Method == http.MethodGet || fetchArgs.Method == http.MethodHead || fetchArgs.Method == http.MethodDelete) {
		fetchArgs.Body = ""
	}

	timeout := time.Duration(t.cfg.TimeoutSeconds) * time.Second
	if fetchArgs.Timeout != nil {
		if *fetchArgs.Timeout < 1 || *fetchArgs.Timeout > 120 {
			return "", fmt.Errorf("timeout must be between 1 and 120 seconds")
		}
		timeout = time.Duration(*fetchArgs.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := *t.client
	if fetchArgs.FollowRedirects != nil && !*fetchArgs.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	var bodyReader io.Reader
	if fetchArgs.Body != "" {
		bodyReader = strings.NewReader(fetchArgs.Body)
	}

	req, err := http.NewRequestWithContext(ctx, fetchArgs.Method, fetchArgs.URL, bodyReader)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
	if fetchArgs.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range fetchArgs.Headers {
		req.Header.Set(name, value)
	}
	if fetchArgs.BasicAuth != nil && fetchArgs.BasicAuth.Username != "" {
		authValue := fetchArgs.BasicAuth.Username + ":" + fetchArgs.BasicAuth.Password
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(authValue)))
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := t.cfg.MaxResponseSize
	if resp.ContentLength > limit {
		return "", fmt.Errorf("response too large: %d bytes exceeds %d bytes limit", resp.ContentLength, limit)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > limit {
		return "", fmt.Errorf("response truncated: exceeds %d bytes limit", limit)
	}

	contentType := resp.Header.Get("Content-Type")
	content := string(body)
	isHTML := strings.Contains(contentType, "text/html")

	switch {
	case fetchArgs.Format == "text" && isHTML:
		content = t.htmlToText(content)
	case fetchArgs.Format == "markdown" && isHTML:
		content = t.htmlToMarkdown(content)
	}

	result := map[string]any{
		"url":         fetchArgs.URL,
		"status":      resp.StatusCode,
		"statusText":  resp.Status,
		"contentType": contentType,
		"length":      len(content),
		"content":     content,
	}

	if fetchArgs.Format == "json" {
		var jsonData any
		if err := json.Unmarshal(body, &jsonData); err != nil {
			return "", fmt.Errorf("failed to parse JSON response: %w", err)
		}
		result["json"] = jsonData
	}

	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(resultJSON), nil
}

// htmlToText drops non-content elements and returns the visible text.
func (t *FetchTool) htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.logger.Error("failed to parse HTML", err)
		return ""
	}
	doc.Find("script, style, noscript, nav, footer, aside").Remove()

	var lines []string
	for line := range strings.SplitSeq(doc.Text(), "\n") {
		line = strings.TrimSpace(reSpace.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func (t *FetchTool) htmlToMarkdown(html string) string {
	opts := &md.Options{
		HeadingStyle:    "atx",
		CodeBlockStyle:  "fenced",
		EmDelimiter:     "*",
		StrongDelimiter: "**",
	}

	converter := md.NewConverter("", true, opts)
	converter.AddRules(md.Rule{
		Filter: []string{"nav", "footer", "aside", "script", "style"},
		Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
			return md.String("")
		},
	})

	markdown, err := converter.ConvertString(html)
	if err != nil {
		t.logger.Error("failed to convert HTML to Markdown", err)
		return ""
	}

	markdown = reCleanNewlines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}
