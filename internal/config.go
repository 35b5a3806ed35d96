package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON   = "json"
	LogFormatText   = "text"
	LogFormatPretty = "pretty"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Content ContentConfig     `yaml:"content"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Site    SiteConfig        `yaml:"site"`
	Embed   EmbedConfig       `yaml:"embed"`
	Render  RenderConfig      `yaml:"render"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Content.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Site.Validate(); err != nil {
		return err
	}
	if err := c.Embed.Validate(); err != nil {
		return err
	}
	if err := c.Render.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText, LogFormatPretty)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
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

// ContentConfig holds the Markdown source directory and the directory the
// built site is written to.
type ContentConfig struct {
	Path   string `yaml:"path"`
	Output string `yaml:"output"`
}

// Validate validates the content configuration.
func (c *ContentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Output, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SiteConfig describes the generated site.
type SiteConfig struct {
	BaseURL string `yaml:"base_url"`
	Title   string `yaml:"title"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, is.URL),
		validation.Field(&c.Title, validation.Required),
	)
}

// EmbedConfig controls link embedding and wiki-link media resolution.
//
// InternalDomain marks links to the site itself; empty disables the rule.
// BlockPrivateHosts stops metadata fetches to loopback, private and cloud
// metadata addresses.
type EmbedConfig struct {
	ContentBaseURL       string        `yaml:"content_base_url"`
	AssetPrefix          string        `yaml:"asset_prefix"`
	InternalDomain       string        `yaml:"internal_domain"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
	UserAgent            string        `yaml:"user_agent"`
	BlockPrivateHosts    bool          `yaml:"block_private_hosts"`
}

// Validate validates the embed configuration.
func (c *EmbedConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ContentBaseURL, validation.Required, is.URL),
		validation.Field(&c.AssetPrefix, validation.Required),
		validation.Field(&c.FetchTimeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.MaxBodyBytes, validation.Required, validation.Min(int64(1024))),
		validation.Field(&c.MaxConcurrentFetches, validation.Min(0)),
	)
}

// RenderConfig controls Markdown rendering and the build worker pool.
type RenderConfig struct {
	UnsafeHTML   bool `yaml:"unsafe_html"`
	BuildWorkers int  `yaml:"build_workers"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BuildWorkers, validation.Required, validation.Min(1), validation.Max(64)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
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
		Content: ContentConfig{
			Path:   "./content",
			Output: "./public",
		},
		SQLite: SQLiteConfig{
			Path: "./embedmark.db",
		},
		Site: SiteConfig{
			Title: "embedmark",
		},
		Embed: EmbedConfig{
			ContentBaseURL:       "https://content.example.com",
			AssetPrefix:          "assets",
			FetchTimeout:         5 * time.Second,
			MaxBodyBytes:         2 << 20,
			MaxConcurrentFetches: 8,
			UserAgent:            "embedmark/1.0 (+link-preview)",
		},
		Render: RenderConfig{
			BuildWorkers: 4,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
