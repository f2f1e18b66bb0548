package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/plotweave/internal/extract"
	"github.com/starford/plotweave/internal/indexer"
	"github.com/starford/plotweave/internal/network"
	"github.com/starford/plotweave/internal/retrieve"
)

// EnvPrefix prefixes every environment override, e.g. PLOTWEAVE_SQLITE_PATH.
const EnvPrefix = "PLOTWEAVE_"

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app" envPrefix:"APP_"`
	Project   ProjectConfig     `yaml:"project" envPrefix:"PROJECT_"`
	SQLite    SQLiteConfig      `yaml:"sqlite" envPrefix:"SQLITE_"`
	Extract   ExtractConfig     `yaml:"extract" envPrefix:"EXTRACT_"`
	Retrieval retrieve.Config   `yaml:"retrieval" envPrefix:"RETRIEVAL_"`
	Network   network.Config    `yaml:"network" envPrefix:"NETWORK_"`
	Indexer   IndexerConfig     `yaml:"indexer" envPrefix:"INDEXER_"`
	Auth      AuthConfig        `yaml:"auth" envPrefix:"AUTH_"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Project.Validate(); err != nil {
		return fmt.Errorf("project: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Extract.Validate(); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if err := c.Indexer.Validate(); err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string     `yaml:"log_format" env:"LOG_FORMAT"`
	HTTP      HTTPConfig `yaml:"http" envPrefix:"HTTP_"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatConsole)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ProjectConfig locates the novel project. ChaptersDir and SettingsDir are
// relative to Root.
type ProjectConfig struct {
	Root        string `yaml:"root" env:"ROOT"`
	ChaptersDir string `yaml:"chapters_dir" env:"CHAPTERS_DIR"`
	SettingsDir string `yaml:"settings_dir" env:"SETTINGS_DIR"`
}

// Validate validates the project configuration.
func (c *ProjectConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.ChaptersDir, validation.Required, validation.By(relativeDir)),
		validation.Field(&c.SettingsDir, validation.Required, validation.By(relativeDir)),
	)
}

func relativeDir(v any) error {
	s, _ := v.(string)
	if filepath.IsAbs(s) || !filepath.IsLocal(filepath.Clean(s)) {
		return fmt.Errorf("must be a directory inside the project root")
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ExtractConfig seeds and tunes extraction.
type ExtractConfig struct {
	// Characters and Locations are known before any settings file is read.
	Characters             []string          `yaml:"characters" env:"CHARACTERS"`
	Locations              []string          `yaml:"locations" env:"LOCATIONS"`
	CooccurrenceConfidence float64           `yaml:"cooccurrence_confidence" env:"COOCCURRENCE_CONFIDENCE"`
	RelationCues           map[string]string `yaml:"relation_cues"`
}

// Validate validates the extraction configuration.
func (c *ExtractConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.CooccurrenceConfidence, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(1.0)),
	)
}

// Extractor converts the section into an extract.Config.
func (c *ExtractConfig) Extractor() extract.Config {
	return extract.Config{CooccurrenceConfidence: c.CooccurrenceConfidence, RelationCues: c.RelationCues}
}

// IndexerConfig tunes the ingestion queue and watcher.
type IndexerConfig struct {
	Workers        int           `yaml:"workers" env:"WORKERS"`
	ReconcileDelay time.Duration `yaml:"reconcile_delay" env:"RECONCILE_DELAY"`
}

// Validate validates the indexer configuration.
func (c *IndexerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.ReconcileDelay, validation.Min(time.Duration(0))),
	)
}

// IndexerOptions builds the indexer configuration from the project, extract
// and indexer sections.
func (c *Config) IndexerOptions() indexer.Config {
	return indexer.Config{
		ChaptersDir:    c.Project.ChaptersDir,
		SettingsDir:    c.Project.SettingsDir,
		Workers:        c.Indexer.Workers,
		ReconcileDelay: c.Indexer.ReconcileDelay,
		Characters:     c.Extract.Characters,
		Locations:      c.Extract.Locations,
	}
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" env:"MODE"`
	Token string `yaml:"token" env:"TOKEN"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Project: ProjectConfig{
			Root:        ".",
			ChaptersDir: "chapters",
			SettingsDir: "settings",
		},
		SQLite: SQLiteConfig{
			Path: "./.plotweave/index.db",
		},
		Extract: ExtractConfig{
			CooccurrenceConfidence: 0.3,
		},
		Retrieval: retrieve.DefaultConfig(),
		Network:   network.DefaultConfig(),
		Indexer: IndexerConfig{
			Workers:        4,
			ReconcileDelay: 200 * time.Millisecond,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
