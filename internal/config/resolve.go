package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LookupFunc reads a single environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Options carries the values the resolver cannot discover on its own.
type Options struct {
	// DefaultInstallRoot is used when neither the environment nor the config
	// file names an install root.
	DefaultInstallRoot string
	// BundleRoot is the directory of a packaged launcher, empty otherwise.
	BundleRoot string
	// Packaged reports whether the launcher was built as a packaged executable.
	Packaged bool
}

// CandidatePaths returns the config file search order: an explicit
// LOCALIS_CONFIG path, the provisional install root, then the bundle root.
// The provisional install root is LOCALIS_INSTALL_ROOT if set, otherwise
// the default; an install_root key inside the file cannot move the search.
func CandidatePaths(lookup LookupFunc, opts Options) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" {
			return
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	if v := envValue(lookup, EnvConfigPath); v != "" {
		add(v)
	}
	root := opts.DefaultInstallRoot
	if v := envValue(lookup, EnvInstallRoot); v != "" {
		root = v
	}
	if root != "" {
		add(filepath.Join(root, ConfigFileName))
	}
	if opts.BundleRoot != "" {
		add(filepath.Join(opts.BundleRoot, ConfigFileName))
	}
	return paths
}

// Resolve builds the effective configuration. For every field the
// environment wins over the first parseable config file among candidates,
// which wins over the built-in default. Config file problems are recorded as
// warnings and never fail resolution; the only error is a missing repository
// URL (or an install root that cannot be made absolute).
func Resolve(lookup LookupFunc, candidates []string, opts Options) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := &Config{
		BundleRoot: opts.BundleRoot,
		Packaged:   opts.Packaged,
		Sources:    make(map[string]Source),
	}

	file, path, warnings := loadFirst(candidates)
	cfg.ConfigFile = path
	cfg.Warnings = append(cfg.Warnings, warnings...)

	if v := envValue(lookup, EnvPackaged); v != "" {
		packaged, err := strconv.ParseBool(v)
		if err != nil {
			cfg.warnf("ignoring %s=%q: not a boolean", EnvPackaged, v)
		} else {
			cfg.Packaged = packaged
		}
	}

	// repo_url: env > app_repo_url > repo_url (legacy); no default
	if v := envValue(lookup, EnvRepoURL); v != "" {
		cfg.RepoURL, cfg.Sources["repo_url"] = v, SourceEnv
	} else if v := file.str("app_repo_url", "repo_url"); v != "" {
		cfg.RepoURL, cfg.Sources["repo_url"] = v, SourceFile
	}

	cfg.Branch, cfg.Sources["branch"] = DefaultBranch, SourceDefault
	if v := envValue(lookup, EnvBranch); v != "" {
		cfg.Branch, cfg.Sources["branch"] = v, SourceEnv
	} else if v := file.str("app_branch", "branch"); v != "" {
		cfg.Branch, cfg.Sources["branch"] = v, SourceFile
	}

	cfg.Host, cfg.Sources["host"] = DefaultHost, SourceDefault
	if v := envValue(lookup, EnvHost); v != "" {
		cfg.Host, cfg.Sources["host"] = v, SourceEnv
	} else if v := file.str("host"); v != "" {
		cfg.Host, cfg.Sources["host"] = v, SourceFile
	}

	cfg.Port, cfg.Sources["port"] = DefaultPort, SourceDefault
	if port, ok := cfg.envPort(lookup); ok {
		cfg.Port, cfg.Sources["port"] = port, SourceEnv
	} else if port, ok := cfg.filePort(file); ok {
		cfg.Port, cfg.Sources["port"] = port, SourceFile
	}

	cfg.Sources["dev_reload"] = SourceDefault
	if v := envValue(lookup, EnvDevReload); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DevReload, cfg.Sources["dev_reload"] = b, SourceEnv
		} else {
			cfg.warnf("ignoring %s=%q: not a boolean", EnvDevReload, v)
		}
	}
	if cfg.Sources["dev_reload"] == SourceDefault {
		if b, ok, err := file.boolean("dev_reload"); err != nil {
			cfg.warnf("ignoring dev_reload in %s: %v", path, err)
		} else if ok {
			cfg.DevReload, cfg.Sources["dev_reload"] = b, SourceFile
		}
	}

	root := opts.DefaultInstallRoot
	cfg.Sources["install_root"] = SourceDefault
	if v := envValue(lookup, EnvInstallRoot); v != "" {
		root, cfg.Sources["install_root"] = v, SourceEnv
	} else if v := file.str("install_root"); v != "" {
		if !filepath.IsAbs(v) {
			v = filepath.Join(filepath.Dir(path), v)
		}
		root, cfg.Sources["install_root"] = v, SourceFile
	}
	if root == "" {
		return cfg, fmt.Errorf("install root is not configured")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return cfg, fmt.Errorf("failed to resolve install root %q: %w", root, err)
	}
	cfg.InstallRoot = abs

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) warnf(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) envPort(lookup LookupFunc) (int, bool) {
	v := envValue(lookup, EnvPort)
	if v == "" {
		return 0, false
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		c.warnf("ignoring %s=%q: not a number", EnvPort, v)
		return 0, false
	}
	// 0 means "unset", as an empty value would
	if port == 0 {
		return 0, false
	}
	if port < 1 || port > 65535 {
		c.warnf("ignoring %s=%d: out of range 1-65535", EnvPort, port)
		return 0, false
	}
	return port, true
}

func (c *Config) filePort(file fileValues) (int, bool) {
	port, ok, err := file.integer("port")
	if err != nil {
		c.warnf("ignoring port in %s: %v", c.ConfigFile, err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	if port < 1 || port > 65535 {
		c.warnf("ignoring port %d in %s: out of range 1-65535", port, c.ConfigFile)
		return 0, false
	}
	return port, true
}

// envValue returns the trimmed value of key; unset and empty are the same.
func envValue(lookup LookupFunc, key string) string {
	v, ok := lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// fileValues is the decoded config file. A nil map behaves as an empty file.
type fileValues map[string]interface{}

// loadFirst returns the first candidate that exists and parses. Missing
// candidates are skipped silently; unreadable or malformed ones are skipped
// with a warning.
func loadFirst(candidates []string) (fileValues, string, []string) {
	var warnings []string
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				warnings = append(warnings, fmt.Sprintf("failed to read config file %s: %v", path, err))
			}
			continue
		}
		values, err := decode(path, data)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to parse config file %s: %v", path, err))
			continue
		}
		return values, path, warnings
	}
	return nil, "", warnings
}

func decode(path string, data []byte) (fileValues, error) {
	values := fileValues{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	}
	if values == nil {
		// "null" document
		return nil, fmt.Errorf("config file is not an object")
	}
	return values, nil
}

// str returns the first non-empty string among keys.
func (f fileValues) str(keys ...string) string {
	for _, key := range keys {
		if s, ok := f[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func (f fileValues) integer(key string) (int, bool, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), true, nil
	case int:
		return v, true, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false, fmt.Errorf("%q is not an integer", v)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("unexpected type %T", raw)
	}
}

func (f fileValues) boolean(key string) (bool, bool, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return false, false, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false, fmt.Errorf("%q is not a boolean", v)
		}
		return b, true, nil
	default:
		return false, false, fmt.Errorf("unexpected type %T", raw)
	}
}

// Flag reports whether the boolean environment variable key is set to a
// true value. Unset, empty and unparseable values are false.
func Flag(lookup LookupFunc, key string) bool {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	b, err := strconv.ParseBool(envValue(lookup, key))
	return err == nil && b
}
