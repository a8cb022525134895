// Package config loads the supervisor configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"hotswap/internal/security"
	"hotswap/pkg/cmdutil"
	"hotswap/pkg/fileutil"
)

// FileName is the default configuration file name searched for by Find.
const FileName = "hotswap.yaml"

const (
	DefaultPullTimeout    = 300
	DefaultStopTimeout    = 10
	DefaultBuildTimeout   = 600
	DefaultOutputDir      = "dist"
	DefaultAssetPath      = "/upgrading_bg.svg"
	DefaultTitle          = "Upgrading"
	DefaultStatusContext  = "hotswap/upgrade"
	DefaultHistorySize    = 50
	minTokenLength        = 16
	maxConfiguredTimeouts = 24 * 60 * 60
)

// DefaultPull is the fetch sequence used when the config does not list one.
var DefaultPull = []string{"git pull -f", "npm install"}

// DefaultBuild is the build sequence used when the config does not list one.
var DefaultBuild = []string{"npm run build"}

// Environment variables that override file values.
const (
	EnvMode          = "HOTSWAP_ENV"
	EnvConfig        = "HOTSWAP_CONFIG"
	EnvWebhookSecret = "HOTSWAP_WEBHOOK_SECRET"
	EnvAccessToken   = "HOTSWAP_ACCESS_TOKEN"
	EnvGitHubToken   = "GITHUB_TOKEN"
)

// Config is one immutable snapshot of the supervisor configuration.
// Load returns a fresh value on every call; callers never mutate it.
type Config struct {
	Mode          Mode              `yaml:"mode"`
	Workdir       string            `yaml:"workdir"`
	WebhookSecret string            `yaml:"webhook_secret"`
	AccessToken   string            `yaml:"access_token"`
	Branch        string            `yaml:"branch"`
	Pull          Commands          `yaml:"pull"`
	PullTimeout   int               `yaml:"pull_timeout"`
	StopTimeout   int               `yaml:"stop_timeout"`
	Build         BuildConfig       `yaml:"build"`
	Placeholder   PlaceholderConfig `yaml:"placeholder"`
	Admin         AdminConfig       `yaml:"admin"`
	GitHub        GitHubConfig      `yaml:"github"`
	HistorySize   int               `yaml:"history_size"`

	// Source is the file the configuration was read from.
	Source string `yaml:"-"`
}

// BuildConfig describes how the served site is produced.
type BuildConfig struct {
	Commands    Commands `yaml:"commands"`
	Env         []string `yaml:"env"`
	Timeout     int      `yaml:"timeout"`
	OutputDir   string   `yaml:"output_dir"`
	SPAFallback bool     `yaml:"spa_fallback"`
}

// Commands is a list of command lines. In YAML each entry is either a
// shell-quoted string or a list of arguments.
type Commands []string

// UnmarshalYAML accepts both entry formats. Strings are kept verbatim and
// checked by Validate; lists are quoted back into a single command line.
func (c *Commands) UnmarshalYAML(value *yaml.Node) error {
	var raw []interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	commands := make(Commands, 0, len(raw))
	for i, item := range raw {
		if line, ok := item.(string); ok {
			commands = append(commands, line)
			continue
		}
		parts, err := cmdutil.ParseCommandList(item)
		if err != nil {
			return fmt.Errorf("line %d: command %d: %w", value.Line, i, err)
		}
		commands = append(commands, shellquote.Join(parts...))
	}

	*c = commands
	return nil
}

// PlaceholderConfig customises the maintenance page.
type PlaceholderConfig struct {
	Page      string `yaml:"page"`
	Asset     string `yaml:"asset"`
	AssetPath string `yaml:"asset_path"`
	Title     string `yaml:"title"`
	Message   string `yaml:"message"`
}

// AdminConfig restricts the /command endpoint.
type AdminConfig struct {
	AllowedCommands []string `yaml:"allowed_commands"`
}

// GitHubConfig enables commit status reporting.
type GitHubConfig struct {
	Token      string `yaml:"token"`
	Repository string `yaml:"repository"`
	Context    string `yaml:"context"`
}

// Find locates the configuration file. An explicit path wins, then
// HOTSWAP_CONFIG, then the default search paths.
func Find(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env, nil
	}
	return fileutil.FindConfig(FileName)
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.Source = absPath

	cfg.applyEnv()
	cfg.applyDefaults()

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &ValidationError{Source: absPath, Problems: problems}
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvMode); v != "" {
		c.Mode = Mode(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		c.WebhookSecret = v
	}
	if v := os.Getenv(EnvAccessToken); v != "" {
		c.AccessToken = v
	}
	if v := os.Getenv(EnvGitHubToken); v != "" {
		c.GitHub.Token = v
	}
}

func (c *Config) applyDefaults() {
	if m, err := ParseMode(string(c.Mode)); err == nil {
		c.Mode = m
	}
	if c.Workdir != "" {
		c.Workdir = fileutil.ResolveIn(filepath.Dir(c.Source), c.Workdir)
	}
	if c.Pull == nil {
		c.Pull = append([]string(nil), DefaultPull...)
	}
	if c.PullTimeout == 0 {
		c.PullTimeout = DefaultPullTimeout
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Build.Commands == nil {
		c.Build.Commands = append([]string(nil), DefaultBuild...)
	}
	if c.Build.Timeout == 0 {
		c.Build.Timeout = DefaultBuildTimeout
	}
	if c.Build.OutputDir == "" {
		c.Build.OutputDir = DefaultOutputDir
	}
	if c.Placeholder.AssetPath == "" {
		c.Placeholder.AssetPath = DefaultAssetPath
	}
	if c.Placeholder.Title == "" {
		c.Placeholder.Title = DefaultTitle
	}
	if c.GitHub.Context == "" {
		c.GitHub.Context = DefaultStatusContext
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
}

// Validate returns every problem found in the configuration.
func (c *Config) Validate() []string {
	var problems []string

	if _, err := ParseMode(string(c.Mode)); err != nil {
		problems = append(problems, fmt.Sprintf("  - mode: %v", err))
	}

	if c.Workdir == "" {
		problems = append(problems, "  - missing required 'workdir' field")
	} else if !fileutil.DirExists(c.Workdir) {
		problems = append(problems, fmt.Sprintf("  - workdir does not exist or is not a directory: '%s'", c.Workdir))
	}

	// Production secrets must pass the full strength check
	switch {
	case c.WebhookSecret == "" && c.Mode == Production:
		problems = append(problems, "  - 'webhook_secret' is required in production mode (or set "+EnvWebhookSecret+")")
	case c.WebhookSecret != "" && security.IsPlaceholderSecret(c.WebhookSecret):
		problems = append(problems, "  - webhook_secret appears to be a placeholder value, replace with real secret")
	case c.WebhookSecret != "" && c.Mode == Production:
		if err := security.ValidateSecret(c.WebhookSecret); err != nil {
			problems = append(problems, fmt.Sprintf("  - webhook_secret: %v", err))
		}
	}

	if c.AccessToken != "" {
		switch {
		case security.IsPlaceholderSecret(c.AccessToken):
			problems = append(problems, "  - access_token appears to be a placeholder value, replace with real secret")
		case c.Mode == Production:
			if err := security.ValidateSecret(c.AccessToken); err != nil {
				problems = append(problems, fmt.Sprintf("  - access_token: %v", err))
			}
		case len(c.AccessToken) < minTokenLength:
			problems = append(problems, fmt.Sprintf("  - access_token too short (minimum %d characters)", minTokenLength))
		}
	}

	if c.Branch != "" {
		if err := security.ValidateBranchName(c.Branch); err != nil {
			problems = append(problems, fmt.Sprintf("  - branch: %v", err))
		}
	}

	for i, cmd := range c.Pull {
		if _, err := cmdutil.ParseCommandString(cmd); err != nil {
			problems = append(problems, fmt.Sprintf("  - pull[%d]: %v", i, err))
		}
	}
	for i, cmd := range c.Build.Commands {
		if _, err := cmdutil.ParseCommandString(cmd); err != nil {
			problems = append(problems, fmt.Sprintf("  - build.commands[%d]: %v", i, err))
		}
	}
	for i, kv := range c.Build.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			problems = append(problems, fmt.Sprintf("  - build.env[%d]: must be KEY=value, got '%s'", i, kv))
		}
	}

	for name, v := range map[string]int{
		"pull_timeout":  c.PullTimeout,
		"stop_timeout":  c.StopTimeout,
		"build.timeout": c.Build.Timeout,
	} {
		if v < 0 || v > maxConfiguredTimeouts {
			problems = append(problems, fmt.Sprintf("  - %s must be between 1 and %d seconds, got %d", name, maxConfiguredTimeouts, v))
		}
	}

	if c.HistorySize < 0 {
		problems = append(problems, fmt.Sprintf("  - history_size must be positive, got %d", c.HistorySize))
	}

	if !strings.HasPrefix(c.Placeholder.AssetPath, "/") {
		problems = append(problems, fmt.Sprintf("  - placeholder.asset_path must start with '/', got '%s'", c.Placeholder.AssetPath))
	}
	for name, p := range map[string]string{"placeholder.page": c.Placeholder.Page, "placeholder.asset": c.Placeholder.Asset} {
		if p != "" && !fileutil.FileExists(fileutil.ResolveIn(c.Workdir, p)) {
			problems = append(problems, fmt.Sprintf("  - %s does not exist: '%s'", name, p))
		}
	}

	if c.GitHub.Repository != "" {
		if owner, repo, ok := strings.Cut(c.GitHub.Repository, "/"); !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			problems = append(problems, fmt.Sprintf("  - github.repository must be 'owner/repo', got '%s'", c.GitHub.Repository))
		}
	}

	return problems
}

// Warnings returns non-fatal problems worth logging at startup.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.WebhookSecret != "" && security.IsWeakSecret(c.WebhookSecret) {
		warnings = append(warnings, "webhook_secret is weak; generate one with 'hotswap secret'")
	}
	if c.AccessToken != "" && security.IsWeakSecret(c.AccessToken) {
		warnings = append(warnings, "access_token is weak; generate one with 'hotswap secret'")
	}
	if c.AccessToken == "" {
		warnings = append(warnings, "access_token not set; /command and /restart are disabled")
	}
	if c.Source != "" {
		if err := security.ValidateSecurePermissions(c.Source); err != nil {
			warnings = append(warnings, err.Error())
		}
	}
	return warnings
}

// Secrets returns the configured secret values for output redaction.
func (c *Config) Secrets() []string {
	var secrets []string
	for _, s := range []string{c.WebhookSecret, c.AccessToken, c.GitHub.Token} {
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}

// MatchesRef reports whether a pushed git ref selects the configured branch.
// With no branch configured every ref matches.
func (c *Config) MatchesRef(ref string) bool {
	if c.Branch == "" {
		return true
	}
	return ref == c.Branch || ref == "refs/heads/"+c.Branch
}

// OutputPath returns the absolute build output directory.
func (c *Config) OutputPath() string {
	return fileutil.ResolveIn(c.Workdir, c.Build.OutputDir)
}

// ValidationError lists every problem found while loading a configuration.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration in %s:\n%s", e.Source, strings.Join(e.Problems, "\n"))
}

// IsValidation reports whether err is a configuration validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
