// Package config loads the Walker's process-wide configuration once at
// startup via viper, bound to WALKER_*-prefixed environment variables, and
// validates it eagerly (spec §6, §7 Configuration errors are fail-fast).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/BryanOwens012/dogwalker/internal/dog"
)

// Config is the immutable, process-wide configuration (spec §6).
type Config struct {
	LLMAPIKey     string
	ForgeRepo     string // "owner/repo"
	ForgeToken    string // optional; falls back to first dog's credential
	ChatBotToken  string
	ChatAppToken  string
	StoreURL      string // sqlite DSN or file path backing the Coordination Store
	BaseBranch    string
	Dogs          []dog.Dog
	DebugLogging  bool
	PollInterval  time.Duration
	WaitTimeout   time.Duration
	WaitPoll      time.Duration
	GitHubWebhook string // webhook secret for forge-side callbacks

	EditorBaseURL      string // black-box editing agent's HTTP endpoint
	EditorAPIKey       string // falls back to LLMAPIKey when unset
	ChatSocketURL      string // chat platform's socket-mode endpoint
	WebSearchBaseURL   string // optional; SearchContext degrades to no-op when unset
	WebSearchAPIKey    string
	QueueURL           string // sqlite DSN backing the Job Runtime queue; falls back to StoreURL
	HealthAddr         string // worker's health-check HTTP listen address
	InvitationCronSpec string // standard 5-field cron, invitation-acceptor companion job
	WorkspaceRoot      string // directory root under which per-task working trees are checked out
}

// Load reads configuration from environment variables (prefix WALKER_) with
// viper, applies defaults, and validates the result. A missing required
// value or an empty dog roster is a configuration error and must fail fast
// (spec §7).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WALKER")
	v.AutomaticEnv()

	v.SetDefault("base_branch", "main")
	v.SetDefault("debug_logging", false)
	v.SetDefault("poll_interval_seconds", 30)
	v.SetDefault("wait_timeout_seconds", 600)
	v.SetDefault("wait_poll_seconds", 10)
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("invitation_cron_spec", "0 */6 * * *")
	v.SetDefault("workspace_root", "/var/lib/walker/workspaces")

	cfg := &Config{
		LLMAPIKey:          v.GetString("llm_api_key"),
		ForgeRepo:          v.GetString("forge_repo"),
		ForgeToken:         v.GetString("forge_token"),
		ChatBotToken:       v.GetString("chat_bot_token"),
		ChatAppToken:       v.GetString("chat_app_token"),
		StoreURL:           v.GetString("store_url"),
		BaseBranch:         v.GetString("base_branch"),
		DebugLogging:       v.GetBool("debug_logging"),
		PollInterval:       time.Duration(v.GetInt("poll_interval_seconds")) * time.Second,
		WaitTimeout:        time.Duration(v.GetInt("wait_timeout_seconds")) * time.Second,
		WaitPoll:           time.Duration(v.GetInt("wait_poll_seconds")) * time.Second,
		GitHubWebhook:      v.GetString("github_webhook_secret"),
		EditorBaseURL:      v.GetString("editor_base_url"),
		EditorAPIKey:       v.GetString("editor_api_key"),
		ChatSocketURL:      v.GetString("chat_socket_url"),
		WebSearchBaseURL:   v.GetString("websearch_base_url"),
		WebSearchAPIKey:    v.GetString("websearch_api_key"),
		QueueURL:           v.GetString("queue_url"),
		HealthAddr:         v.GetString("health_addr"),
		InvitationCronSpec: v.GetString("invitation_cron_spec"),
		WorkspaceRoot:      v.GetString("workspace_root"),
	}

	dogs, err := loadDogs(v)
	if err != nil {
		return nil, fmt.Errorf("loading dog roster: %w", err)
	}
	cfg.Dogs = dogs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDogs resolves the dog roster from WALKER_DOGS (a JSON array), falling
// back to WALKER_DOGS_FILE (a YAML roster file) and finally to the legacy
// single-dog envs (WALKER_DOG_NAME/EMAIL/CREDENTIAL).
func loadDogs(v *viper.Viper) ([]dog.Dog, error) {
	if raw := v.GetString("dogs"); raw != "" {
		var dogs []dog.Dog
		if err := json.Unmarshal([]byte(raw), &dogs); err != nil {
			return nil, fmt.Errorf("parsing WALKER_DOGS as JSON: %w", err)
		}
		return dogs, nil
	}

	if path := v.GetString("dogs_file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading dog roster file %q: %w", path, err)
		}
		var dogs []dog.Dog
		if err := yaml.Unmarshal(data, &dogs); err != nil {
			return nil, fmt.Errorf("parsing dog roster file %q: %w", path, err)
		}
		return dogs, nil
	}

	// Legacy single-dog envs.
	name := v.GetString("dog_name")
	email := v.GetString("dog_email")
	cred := v.GetString("dog_credential")
	if name != "" && email != "" && cred != "" {
		return []dog.Dog{{Name: name, Email: email, Credential: cred}}, nil
	}

	return nil, nil
}

// Validate checks that required configuration is present and well-formed,
// replacing the original implementation's standalone validate_env.py script
// with an in-process fail-fast startup check.
func (c *Config) Validate() error {
	var missing []string
	if c.LLMAPIKey == "" {
		missing = append(missing, "WALKER_LLM_API_KEY")
	}
	if c.ForgeRepo == "" {
		missing = append(missing, "WALKER_FORGE_REPO")
	}
	if c.ChatBotToken == "" {
		missing = append(missing, "WALKER_CHAT_BOT_TOKEN")
	}
	if c.ChatAppToken == "" {
		missing = append(missing, "WALKER_CHAT_APP_TOKEN")
	}
	if c.StoreURL == "" {
		missing = append(missing, "WALKER_STORE_URL")
	}
	if c.EditorBaseURL == "" {
		missing = append(missing, "WALKER_EDITOR_BASE_URL")
	}
	if c.ChatSocketURL == "" {
		missing = append(missing, "WALKER_CHAT_SOCKET_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.ForgeRepo != "" {
		parts := strings.Split(c.ForgeRepo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("WALKER_FORGE_REPO must be in 'owner/repo' format, got %q", c.ForgeRepo)
		}
	}

	roster, err := dog.NewRoster(c.Dogs)
	if err != nil {
		return fmt.Errorf("invalid dog roster: %w", err)
	}
	c.Dogs = roster.All()

	if c.ForgeToken == "" {
		c.ForgeToken = c.Dogs[0].Credential
	}
	if c.EditorAPIKey == "" {
		c.EditorAPIKey = c.LLMAPIKey
	}
	if c.QueueURL == "" {
		c.QueueURL = c.StoreURL
	}

	return nil
}
