package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"boardroom/internal/domain"
)

// Built-in action kinds a schedule entry can trigger.
const (
	ActionTask      = "task"
	ActionCommittee = "committee"
	ActionSynthesis = "synthesis"
	ActionPrune     = "prune"
)

// Provider kinds with a gateway implementation.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config models board.yml.
type Config struct {
	Board struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"board" json:"board"`
	Members   []Member                  `yaml:"members" json:"members"`
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`
	Gateway   struct {
		TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
		FallbackOrder  []string `yaml:"fallback_order" json:"fallback_order"`
		MaxTokens      int      `yaml:"max_tokens" json:"max_tokens"`
	} `yaml:"gateway" json:"gateway"`
	Telemetry struct {
		RetentionHours int `yaml:"retention_hours" json:"retention_hours"`
		MaxEntries     int `yaml:"max_entries" json:"max_entries"`
	} `yaml:"telemetry" json:"telemetry"`
	Scheduler struct {
		TickSeconds int       `yaml:"tick_seconds" json:"tick_seconds"`
		BuiltIns    []BuiltIn `yaml:"builtins" json:"builtins"`
	} `yaml:"scheduler" json:"scheduler"`
	Knowledge struct {
		Synthesizer  string            `yaml:"synthesizer" json:"synthesizer"`
		EntryTTLDays int               `yaml:"entry_ttl_days" json:"entry_ttl_days"`
		WindowDays   int               `yaml:"window_days" json:"window_days"`
		Figures      map[string]Figure `yaml:"figures" json:"figures"`
	} `yaml:"knowledge" json:"knowledge"`
}

type Member struct {
	Slug     string   `yaml:"slug" json:"slug"`
	Name     string   `yaml:"name" json:"name"`
	Title    string   `yaml:"title" json:"title"`
	Provider string   `yaml:"provider" json:"provider"`
	Model    string   `yaml:"model" json:"model"`
	Active   *bool    `yaml:"active" json:"active,omitempty"`
	Figures  []string `yaml:"figures" json:"figures,omitempty"`
}

type ProviderConfig struct {
	Kind         string `yaml:"kind" json:"kind"`
	APIKeyEnv    string `yaml:"api_key_env" json:"api_key_env"`
	BaseURL      string `yaml:"base_url" json:"base_url,omitempty"`
	DefaultModel string `yaml:"default_model" json:"default_model"`
}

// BuiltIn is a system schedule firing daily at a fixed UTC time.
type BuiltIn struct {
	ID           string   `yaml:"id" json:"id"`
	Title        string   `yaml:"title" json:"title"`
	Hour         int      `yaml:"hour" json:"hour"`
	Minute       int      `yaml:"minute" json:"minute"`
	Action       string   `yaml:"action" json:"action"`
	Assignee     string   `yaml:"assignee" json:"assignee,omitempty"`
	TaskType     string   `yaml:"task_type" json:"task_type,omitempty"`
	Participants []string `yaml:"participants" json:"participants,omitempty"`
	Prompt       string   `yaml:"prompt" json:"prompt,omitempty"`
}

type Figure struct {
	Name    string   `yaml:"name" json:"name"`
	Filters []string `yaml:"filters" json:"filters,omitempty"`
}

// BoardMember converts the config entry to its domain form.
func (m Member) BoardMember() domain.BoardMember {
	active := true
	if m.Active != nil {
		active = *m.Active
	}
	return domain.BoardMember{
		Slug:     m.Slug,
		Name:     m.Name,
		Title:    m.Title,
		Provider: m.Provider,
		Model:    m.Model,
		Active:   active,
		Figures:  append([]string(nil), m.Figures...),
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config.providers is required")
	}
	for name, p := range c.Providers {
		if name == "" {
			return fmt.Errorf("config.providers contains empty provider name")
		}
		if p.Kind != ProviderAnthropic && p.Kind != ProviderGemini {
			return fmt.Errorf("provider %s has unknown kind %q", name, p.Kind)
		}
	}
	if len(c.Members) == 0 {
		return fmt.Errorf("config.members is required")
	}
	seen := map[string]bool{}
	for i, m := range c.Members {
		if m.Slug == "" {
			return fmt.Errorf("member %d has empty slug", i)
		}
		if seen[m.Slug] {
			return fmt.Errorf("duplicate member slug %s", m.Slug)
		}
		seen[m.Slug] = true
		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("member %s references unknown provider %s", m.Slug, m.Provider)
		}
		if m.Model == "" {
			return fmt.Errorf("member %s has empty model", m.Slug)
		}
		for _, fig := range m.Figures {
			if fig == "" {
				return fmt.Errorf("member %s has empty figure id", m.Slug)
			}
		}
	}
	for _, name := range c.Gateway.FallbackOrder {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("gateway.fallback_order references unknown provider %s", name)
		}
	}
	if c.Gateway.TimeoutSeconds < 0 {
		return fmt.Errorf("gateway.timeout_seconds must not be negative")
	}
	ids := map[string]bool{}
	for _, b := range c.Scheduler.BuiltIns {
		if b.ID == "" {
			return fmt.Errorf("scheduler builtin has empty id")
		}
		if ids[b.ID] {
			return fmt.Errorf("duplicate scheduler builtin %s", b.ID)
		}
		ids[b.ID] = true
		if b.Hour < 0 || b.Hour > 23 || b.Minute < 0 || b.Minute > 59 {
			return fmt.Errorf("builtin %s has invalid time %02d:%02d", b.ID, b.Hour, b.Minute)
		}
		switch b.Action {
		case ActionTask:
			if !seen[b.Assignee] {
				return fmt.Errorf("builtin %s references unknown member %s", b.ID, b.Assignee)
			}
		case ActionCommittee:
			if len(b.Participants) < 2 || len(b.Participants) > 4 {
				return fmt.Errorf("builtin %s needs 2-4 participants", b.ID)
			}
			for _, p := range b.Participants {
				if !seen[p] {
					return fmt.Errorf("builtin %s references unknown member %s", b.ID, p)
				}
			}
		case ActionSynthesis, ActionPrune:
		default:
			return fmt.Errorf("builtin %s has unknown action %q", b.ID, b.Action)
		}
	}
	if c.Knowledge.Synthesizer != "" && !seen[c.Knowledge.Synthesizer] {
		return fmt.Errorf("knowledge.synthesizer references unknown member %s", c.Knowledge.Synthesizer)
	}
	return nil
}

// BoardMembers returns every configured member in domain form.
func (c *Config) BoardMembers() []domain.BoardMember {
	out := make([]domain.BoardMember, 0, len(c.Members))
	for _, m := range c.Members {
		out = append(out, m.BoardMember())
	}
	return out
}

// FigureFilters returns the custom filter terms for a figure.
func (c *Config) FigureFilters(figureID string) []string {
	if c == nil || c.Knowledge.Figures == nil {
		return nil
	}
	return c.Knowledge.Figures[figureID].Filters
}

func (c *Config) GatewayTimeout() time.Duration {
	if c.Gateway.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

func (c *Config) TelemetryRetention() time.Duration {
	if c.Telemetry.RetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.Telemetry.RetentionHours) * time.Hour
}

func (c *Config) TelemetryMaxEntries() int {
	if c.Telemetry.MaxEntries <= 0 {
		return 10000
	}
	return c.Telemetry.MaxEntries
}

func (c *Config) TickInterval() time.Duration {
	if c.Scheduler.TickSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

func (c *Config) KnowledgeEntryTTL() time.Duration {
	if c.Knowledge.EntryTTLDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(c.Knowledge.EntryTTLDays) * 24 * time.Hour
}

func (c *Config) KnowledgeWindow() time.Duration {
	if c.Knowledge.WindowDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.Knowledge.WindowDays) * 24 * time.Hour
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "board.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with boardroom config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config if the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `board:
  name: Executive Boardroom

providers:
  anthropic:
    kind: anthropic
    api_key_env: ANTHROPIC_API_KEY
    default_model: claude-sonnet-4-20250514
  gemini:
    kind: gemini
    api_key_env: GEMINI_API_KEY
    default_model: gemini-2.5-flash

members:
  - slug: athena
    name: Athena
    title: Chief Strategy Officer
    provider: anthropic
    model: claude-sonnet-4-20250514
    figures: [jeff-bezos, satya-nadella]
  - slug: griffin
    name: Griffin
    title: Chief Financial Officer
    provider: gemini
    model: gemini-2.5-flash
    figures: [warren-buffett, ray-dalio]
  - slug: scuba
    name: Scuba
    title: Chief Technology Officer
    provider: anthropic
    model: claude-sonnet-4-20250514
    figures: [elon-musk, jensen-huang]
  - slug: nova
    name: Nova
    title: Chief Marketing Officer
    provider: gemini
    model: gemini-2.5-flash
    figures: [phil-knight]

gateway:
  timeout_seconds: 30
  fallback_order: [anthropic, gemini]
  max_tokens: 2048

telemetry:
  retention_hours: 168
  max_entries: 10000

scheduler:
  tick_seconds: 30
  builtins:
    - id: daily_briefing
      title: Daily executive briefing
      hour: 6
      minute: 0
      action: task
      assignee: athena
      task_type: briefing
      prompt: Summarize the priorities, risks and decisions the CEO should focus on today.
    - id: morning_standup
      title: Morning board standup
      hour: 9
      minute: 0
      action: committee
      participants: [athena, griffin, scuba]
      prompt: Each of you, share your top priority for today and any blocker.
    - id: evening_debrief
      title: Evening debrief
      hour: 18
      minute: 0
      action: task
      assignee: griffin
      task_type: debrief
      prompt: Recap what moved today and what should carry over to tomorrow.
    - id: knowledge_synthesis
      title: Inspiration knowledge synthesis
      hour: 3
      minute: 0
      action: synthesis
    - id: telemetry_prune
      title: Telemetry retention sweep
      hour: 4
      minute: 0
      action: prune

knowledge:
  synthesizer: athena
  entry_ttl_days: 90
  window_days: 30
  figures:
    jeff-bezos:
      name: Jeff Bezos
      filters: [blue origin lawsuit]
    satya-nadella:
      name: Satya Nadella
    warren-buffett:
      name: Warren Buffett
    ray-dalio:
      name: Ray Dalio
    elon-musk:
      name: Elon Musk
      filters: [doge, twitter poll]
    jensen-huang:
      name: Jensen Huang
    phil-knight:
      name: Phil Knight
`
