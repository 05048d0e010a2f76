package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/toltec-astro/dvpipe/internal/dataverse"
	"github.com/toltec-astro/dvpipe/internal/pipeline"
)

// EnvPrefix prefixes environment overrides such as DVPIPE_DATAVERSE__API_TOKEN.
const EnvPrefix = "DVPIPE"

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Dataverse DataverseConfig   `yaml:"dataverse"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Work      WorkConfig        `yaml:"work"`
	Project   ProjectConfig     `yaml:"project"`
	Upload    UploadConfig      `yaml:"upload"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Dataverse.Validate(); err != nil {
		return fmt.Errorf("dataverse: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Work.Validate(); err != nil {
		return fmt.Errorf("work: %w", err)
	}
	if err := c.Project.Validate(); err != nil {
		return fmt.Errorf("project: %w", err)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
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

// DataverseConfig points at the Dataverse installation datasets go to.
// An empty BaseURL disables every command that talks to Dataverse.
type DataverseConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIToken  string        `yaml:"api_token"`
	RateLimit int           `yaml:"rate_limit"`
	Retries   int           `yaml:"retries"`
	RetryWait time.Duration `yaml:"retry_wait"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Enabled reports whether a Dataverse installation is configured.
func (c *DataverseConfig) Enabled() bool { return c.BaseURL != "" }

// Validate validates the Dataverse configuration.
func (c *DataverseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, is.URL),
		validation.Field(&c.APIToken, validation.When(c.BaseURL != "", validation.Required)),
		validation.Field(&c.RateLimit, validation.Min(0)),
		validation.Field(&c.Retries, validation.Min(0)),
		validation.Field(&c.RetryWait, validation.Min(time.Duration(0))),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds the metadata mirror database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// WorkConfig holds the directory dataset indices are written to.
type WorkConfig struct {
	IndexDir string `yaml:"index_dir"`
}

// Validate validates the work configuration.
func (c *WorkConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IndexDir, validation.Required),
	)
}

// ProjectConfig locates the LMT project directories. An empty ParentPath
// disables project discovery and the watcher.
type ProjectConfig struct {
	ParentPath string        `yaml:"parent_path"`
	Pattern    string        `yaml:"re_project_dirname"`
	Debounce   time.Duration `yaml:"debounce"`
	Watch      bool          `yaml:"watch"`
}

// Enabled reports whether project discovery is configured.
func (c *ProjectConfig) Enabled() bool { return c.ParentPath != "" }

// Validate validates the project configuration.
func (c *ProjectConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Pattern, validation.By(func(any) error {
			_, err := c.Regexp()
			return err
		})),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// Regexp compiles the project directory pattern.
func (c *ProjectConfig) Regexp() (*regexp.Regexp, error) {
	return pipeline.CompileProjectPattern(c.Pattern)
}

// UploadConfig holds the defaults of the dataset upload job.
type UploadConfig struct {
	Parent  string `yaml:"parent"`
	Action  string `yaml:"action"`
	Publish string `yaml:"publish"`
}

// Validate validates the upload configuration.
func (c *UploadConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Parent, validation.Required),
		validation.Field(&c.Action, validation.Required, validation.In(
			string(dataverse.ActionNone), string(dataverse.ActionUpdate), string(dataverse.ActionCreate))),
		validation.Field(&c.Publish, validation.Required, validation.In(
			string(dataverse.PublishNone), string(dataverse.PublishMajor), string(dataverse.PublishMinor))),
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
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Dataverse: DataverseConfig{
			RateLimit: 5,
			Retries:   2,
			RetryWait: 500 * time.Millisecond,
			Timeout:   60 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "./lmtmetadata.db",
		},
		Work: WorkConfig{
			IndexDir: "./dvpipe_indices",
		},
		Project: ProjectConfig{
			Pattern:  pipeline.DefaultProjectPattern,
			Debounce: 2 * time.Second,
			Watch:    true,
		},
		Upload: UploadConfig{
			Parent:  ":root",
			Action:  string(dataverse.ActionNone),
			Publish: string(dataverse.PublishNone),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
