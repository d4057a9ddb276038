package builders

import (
	"fmt"
	"time"

	"github.com/aatumaykin/nexbeat/internal/config"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/tools"
	"github.com/aatumaykin/nexbeat/internal/tools/fetch"
	"github.com/aatumaykin/nexbeat/internal/tools/sanitizer"
)

type ToolsBuilder struct {
	config    *config.Config
	logger    *logger.Logger
	schedules tools.ScheduleLister
	now       func() time.Time
}

func NewToolsBuilder(cfg *config.Config, log *logger.Logger, schedules tools.ScheduleLister) *ToolsBuilder {
	return &ToolsBuilder{
		config:    cfg,
		logger:    log,
		schedules: schedules,
		now:       time.Now,
	}
}

// Build returns the toolkit every workflow role starts from.
func (b *ToolsBuilder) Build() (*tools.Toolkit, error) {
	tk := tools.NewToolkit(
		tools.WithTimeout(time.Duration(b.config.Agent.ToolTimeoutSeconds)*time.Second),
		tools.WithSanitizer(sanitizer.New(sanitizer.Config{
			RiskThreshold: b.config.Tools.Sanitizer.RiskThreshold,
		})),
		tools.WithLogger(b.logger),
	)

	if err := b.RegisterSystemTimeTool(tk); err != nil {
		return nil, err
	}
	if b.schedules != nil {
		if err := b.RegisterSchedulesTool(tk); err != nil {
			return nil, err
		}
	}
	if b.config.Tools.Fetch.Enabled {
		if err := b.RegisterFetchTool(tk); err != nil {
			return nil, err
		}
	}

	b.logger.Info("Tools registered", logger.Field{Key: "tools", Value: tk.Names()})
	return tk, nil
}

func (b *ToolsBuilder) RegisterSystemTimeTool(tk *tools.Toolkit) error {
	if err := tk.Add(tools.FromTool(tools.NewSystemTimeTool(b.now, b.config.Location()))); err != nil {
		return fmt.Errorf("failed to register system time tool: %w", err)
	}
	return nil
}

func (b *ToolsBuilder) RegisterSchedulesTool(tk *tools.Toolkit) error {
	if err := tk.Add(tools.FromTool(tools.NewSchedulesTool(b.schedules))); err != nil {
		return fmt.Errorf("failed to register schedules tool: %w", err)
	}
	return nil
}

func (b *ToolsBuilder) RegisterFetchTool(tk *tools.Toolkit) error {
	fc := b.config.Tools.Fetch
	d := tools.FromTool(fetch.NewFetchTool(fetch.Config{
		Enabled:         fc.Enabled,
		TimeoutSeconds:  fc.TimeoutSeconds,
		MaxResponseSize: fc.MaxResponseSize,
		UserAgent:       fc.UserAgent,
	}, b.logger))
	d.External = true
	if err := tk.Add(d); err != nil {
		return fmt.Errorf("failed to register fetch tool: %w", err)
	}
	return nil
}
