package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Defaults applied when neither the environment nor the config file supplies a value.
const (
	DefaultBranch = "main"
	DefaultHost   = "127.0.0.1"
	DefaultPort   = 8000

	// ConfigFileName is the config file looked for in the install and bundle roots.
	ConfigFileName = "localis_runtime_config.json"
)

// Environment variables read by the resolver.
const (
	EnvInstallRoot = "LOCALIS_INSTALL_ROOT"
	EnvRepoURL     = "LOCALIS_APP_REPO_URL"
	EnvBranch      = "LOCALIS_APP_BRANCH"
	EnvHost        = "LOCALIS_HOST"
	EnvPort        = "LOCALIS_PORT"
	EnvDevReload   = "LOCALIS_DEV_RELOAD"
	EnvConfigPath  = "LOCALIS_CONFIG"
	EnvPackaged    = "LOCALIS_PACKAGED"
	EnvNoBrowser   = "LOCALIS_NO_BROWSER"
	EnvSkipDeps    = "LOCALIS_SKIP_DEPS"
	EnvLogLevel    = "LOCALIS_LOG_LEVEL"
)

// ErrMissingRepoURL is returned when no source supplies a repository URL.
var ErrMissingRepoURL = errors.New("repository URL is not configured")

// Source identifies where a resolved value came from.
type Source string

const (
	SourceEnv     Source = "env"
	SourceFile    Source = "file"
	SourceDefault Source = "default"
)

// Config is the effective launcher configuration. It is built once by Resolve
// and not modified afterwards.
type Config struct {
	InstallRoot string
	// BundleRoot is empty when the launcher is not running from a packaged bundle.
	BundleRoot string
	RepoURL    string
	Branch     string
	Host       string
	Port       int
	DevReload  bool
	Packaged   bool

	// ConfigFile is the config file that was used, or empty if none was found.
	ConfigFile string
	// Sources maps field names (repo_url, branch, host, port, install_root,
	// dev_reload) to the source that supplied them.
	Sources map[string]Source
	// Warnings collects non-fatal problems found while resolving. They are
	// logged by the caller once a logger exists.
	Warnings []string
}

// Validate checks the invariants that downstream components rely on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RepoURL) == "" {
		return ErrMissingRepoURL
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535 (got %d)", c.Port)
	}
	if c.Branch == "" {
		return fmt.Errorf("branch must not be empty")
	}
	if !filepath.IsAbs(c.InstallRoot) {
		return fmt.Errorf("install root must be an absolute path (got %q)", c.InstallRoot)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{repo=%s, branch=%s, host=%s, port=%d, dev_reload=%t, install_root=%s}",
		c.RepoURL, c.Branch, c.Host, c.Port, c.DevReload, c.InstallRoot,
	)
}

// AppDir is the synchronized application checkout.
func (c *Config) AppDir() string { return filepath.Join(c.InstallRoot, "app") }

// ModelsDir holds model files used by the application.
func (c *Config) ModelsDir() string { return filepath.Join(c.InstallRoot, "models") }

// DataDir holds application data.
func (c *Config) DataDir() string { return filepath.Join(c.InstallRoot, "data") }

// RuntimeDir holds the bundled interpreter and VCS tool.
func (c *Config) RuntimeDir() string { return filepath.Join(c.InstallRoot, "runtime") }

// LogsDir holds launcher and server logs.
func (c *Config) LogsDir() string { return filepath.Join(c.InstallRoot, "logs") }
