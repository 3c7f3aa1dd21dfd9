// Package config loads steward configuration from a YAML file with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the decision gateway endpoint.
type LLMConfig struct {
	// APIKey authenticates against the chat-completions endpoint.
	// Usually supplied via STEWARD_API_KEY rather than the file.
	APIKey string `yaml:"api_key"`

	// BaseURL is the OpenAI-compatible endpoint root, e.g. https://api.deepseek.com/v1
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier sent with every request.
	Model string `yaml:"model"`

	// Timeout bounds a single gateway call at the network level.
	Timeout time.Duration `yaml:"timeout"`
}

// PlannerConfig bounds the orchestration loop.
type PlannerConfig struct {
	// MaxSteps is the hard ceiling on thought/replan/tool steps per task.
	MaxSteps int `yaml:"max_steps"`

	// RetryCount is how many extra gateway attempts one decision gets
	// after its first attempt fails validation or transport.
	RetryCount int `yaml:"retry_count"`

	// ObservationCharLimit caps the retained result text of one observation.
	ObservationCharLimit int `yaml:"observation_char_limit"`

	// ObservationHistoryLimit caps retained observations per task (oldest dropped).
	ObservationHistoryLimit int `yaml:"observation_history_limit"`

	// FailureLimit is the consecutive decision-failure count that kills a task.
	FailureLimit int `yaml:"failure_limit"`

	// CancelPhrase cancels the active task when received verbatim.
	CancelPhrase string `yaml:"cancel_phrase"`
}

// SearchConfig configures the internet_search backend.
type SearchConfig struct {
	// Provider selects the backend ("bocha" or "none").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the search API (STEWARD_SEARCH_API_KEY).
	APIKey string `yaml:"api_key"`

	// TopK is how many results a search observation carries.
	TopK int `yaml:"top_k"`

	// Timeout bounds one search call.
	Timeout time.Duration `yaml:"timeout"`
}

// ReminderConfig configures the background reminder poller.
type ReminderConfig struct {
	// PollInterval is the tick period of the poller.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Lookahead widens the scan window past now so deliveries are not
	// missed between ticks.
	Lookahead time.Duration `yaml:"lookahead"`
}

// PersonaConfig configures the optional persona voice applied to final
// replies and reminder content.
type PersonaConfig struct {
	// Text is the persona description. Empty disables rewriting.
	Text string `yaml:"text"`

	// Path optionally points at a file holding the persona description;
	// it is used when Text is empty.
	Path string `yaml:"path"`
}

// ProfileRefreshConfig configures the daily user-profile regeneration.
type ProfileRefreshConfig struct {
	// Enabled turns the scheduled refresh on. It also requires
	// user_profile_path to be set.
	Enabled bool `yaml:"enabled"`

	// ScheduledHour is the local hour (0..23) the refresh runs at.
	ScheduledHour int `yaml:"scheduled_hour"`

	// LookbackDays scopes the chat turns fed into the refresh.
	LookbackDays int `yaml:"lookback_days"`

	// MaxTurns caps the turns per refresh.
	MaxTurns int `yaml:"max_turns"`

	// PollInterval is the scheduler tick period.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LarkConfig configures the messaging webhook bridge.
type LarkConfig struct {
	// ListenAddr is the webhook server bind address.
	ListenAddr string `yaml:"listen_addr"`

	// VerificationToken validates inbound webhook events (STEWARD_LARK_VERIFICATION_TOKEN).
	VerificationToken string `yaml:"verification_token"`

	// AppID and AppSecret authenticate the outbound message API
	// (STEWARD_LARK_APP_ID / STEWARD_LARK_APP_SECRET).
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`

	// APIBaseURL is the open-platform API root.
	APIBaseURL string `yaml:"api_base_url"`

	// ReminderChatID receives reminder deliveries. Empty disables
	// reminder delivery over the bridge.
	ReminderChatID string `yaml:"reminder_chat_id"`

	// ChunkSize splits long replies into messages of at most this many runes.
	ChunkSize int `yaml:"chunk_size"`

	// DedupTTL is how long a delivered message id suppresses duplicates.
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// Config represents steward configuration options.
type Config struct {
	// DBPath is the sqlite database location.
	DBPath string `yaml:"db_path"`

	// LogLevel sets console verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogDir receives gateway trace files.
	LogDir string `yaml:"log_dir"`

	// UserProfilePath optionally points at a profile text file injected
	// into planning context.
	UserProfilePath string `yaml:"user_profile_path"`

	LLM            LLMConfig            `yaml:"llm"`
	Planner        PlannerConfig        `yaml:"planner"`
	Search         SearchConfig         `yaml:"search"`
	Reminder       ReminderConfig       `yaml:"reminder"`
	Persona        PersonaConfig        `yaml:"persona"`
	ProfileRefresh ProfileRefreshConfig `yaml:"profile_refresh"`
	Lark           LarkConfig           `yaml:"lark"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		DBPath:   "steward.db",
		LogLevel: "info",
		LogDir:   ".steward/logs",
		LLM: LLMConfig{
			BaseURL: "https://api.deepseek.com/v1",
			Model:   "deepseek-chat",
			Timeout: 60 * time.Second,
		},
		Planner: PlannerConfig{
			MaxSteps:                20,
			RetryCount:              2,
			ObservationCharLimit:    10000,
			ObservationHistoryLimit: 100,
			FailureLimit:            2,
			CancelPhrase:            "取消当前任务",
		},
		Search: SearchConfig{
			Provider: "bocha",
			TopK:     3,
			Timeout:  8 * time.Second,
		},
		Reminder: ReminderConfig{
			PollInterval: 15 * time.Second,
			Lookahead:    30 * time.Second,
		},
		ProfileRefresh: ProfileRefreshConfig{
			ScheduledHour: 4,
			LookbackDays:  30,
			MaxTurns:      10000,
			PollInterval:  time.Minute,
		},
		Lark: LarkConfig{
			ListenAddr: "127.0.0.1:8466",
			APIBaseURL: "https://open.feishu.cn",
			ChunkSize:  1500,
			DedupTTL:   10 * time.Minute,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns defaults with env overrides applied.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Unmarshal over the defaults: absent keys keep their default values.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment so the config
// file can be committed without credentials.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STEWARD_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("STEWARD_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("STEWARD_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("STEWARD_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("STEWARD_SEARCH_API_KEY"); v != "" {
		c.Search.APIKey = v
	}
	if v := os.Getenv("STEWARD_LARK_VERIFICATION_TOKEN"); v != "" {
		c.Lark.VerificationToken = v
	}
	if v := os.Getenv("STEWARD_LARK_APP_ID"); v != "" {
		c.Lark.AppID = v
	}
	if v := os.Getenv("STEWARD_LARK_APP_SECRET"); v != "" {
		c.Lark.AppSecret = v
	}
	if v := os.Getenv("STEWARD_LARK_REMINDER_CHAT_ID"); v != "" {
		c.Lark.ReminderChatID = v
	}
}

// Validate validates the configuration values.
// Returns an error if any values are invalid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.Planner.MaxSteps < 1 {
		return fmt.Errorf("planner.max_steps must be >= 1, got %d", c.Planner.MaxSteps)
	}
	if c.Planner.RetryCount < 0 {
		return fmt.Errorf("planner.retry_count must be >= 0, got %d", c.Planner.RetryCount)
	}
	if c.Planner.ObservationCharLimit < 1 {
		return fmt.Errorf("planner.observation_char_limit must be >= 1, got %d", c.Planner.ObservationCharLimit)
	}
	if c.Planner.ObservationHistoryLimit < 1 {
		return fmt.Errorf("planner.observation_history_limit must be >= 1, got %d", c.Planner.ObservationHistoryLimit)
	}
	if c.Planner.FailureLimit < 1 {
		return fmt.Errorf("planner.failure_limit must be >= 1, got %d", c.Planner.FailureLimit)
	}
	if c.Planner.CancelPhrase == "" {
		return fmt.Errorf("planner.cancel_phrase cannot be empty")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must be >= 0, got %v", c.LLM.Timeout)
	}
	if c.Search.TopK < 1 {
		return fmt.Errorf("search.top_k must be >= 1, got %d", c.Search.TopK)
	}
	if c.Reminder.PollInterval < time.Second {
		return fmt.Errorf("reminder.poll_interval must be >= 1s, got %v", c.Reminder.PollInterval)
	}
	if c.ProfileRefresh.ScheduledHour < 0 || c.ProfileRefresh.ScheduledHour > 23 {
		return fmt.Errorf("profile_refresh.scheduled_hour must be in 0..23, got %d", c.ProfileRefresh.ScheduledHour)
	}
	if c.ProfileRefresh.LookbackDays < 1 {
		return fmt.Errorf("profile_refresh.lookback_days must be >= 1, got %d", c.ProfileRefresh.LookbackDays)
	}
	if c.ProfileRefresh.MaxTurns < 1 {
		return fmt.Errorf("profile_refresh.max_turns must be >= 1, got %d", c.ProfileRefresh.MaxTurns)
	}
	if c.Lark.ChunkSize < 1 {
		return fmt.Errorf("lark.chunk_size must be >= 1, got %d", c.Lark.ChunkSize)
	}
	return nil
}
