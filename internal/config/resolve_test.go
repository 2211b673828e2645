package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapLookup adapts a map to a LookupFunc.
func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestResolvePrecedence checks env > file > default over every presence
// combination of the three sources for a field that has a default (branch)
// and one that does not (repo URL).
func TestResolvePrecedence(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		envSet := mask&1 != 0
		fileSet := mask&2 != 0
		hasDefault := mask&4 != 0

		name := "env=" + boolName(envSet) + "/file=" + boolName(fileSet) + "/default=" + boolName(hasDefault)
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			env := map[string]string{}
			fileContent := `{}`

			if hasDefault {
				// Branch has a default; repo URL must still come from somewhere.
				env[EnvRepoURL] = "https://example.com/app.git"
				if envSet {
					env[EnvBranch] = "from-env"
				}
				if fileSet {
					fileContent = `{"app_branch": "from-file"}`
				}
			} else {
				if envSet {
					env[EnvRepoURL] = "https://env.example.com/app.git"
				}
				if fileSet {
					fileContent = `{"app_repo_url": "https://file.example.com/app.git"}`
				}
			}
			path := writeFile(t, root, ConfigFileName, fileContent)

			cfg, err := Resolve(mapLookup(env), []string{path}, Options{DefaultInstallRoot: root})

			if hasDefault {
				require.NoError(t, err)
				switch {
				case envSet:
					assert.Equal(t, "from-env", cfg.Branch)
					assert.Equal(t, SourceEnv, cfg.Sources["branch"])
				case fileSet:
					assert.Equal(t, "from-file", cfg.Branch)
					assert.Equal(t, SourceFile, cfg.Sources["branch"])
				default:
					assert.Equal(t, DefaultBranch, cfg.Branch)
					assert.Equal(t, SourceDefault, cfg.Sources["branch"])
				}
				return
			}

			switch {
			case envSet:
				require.NoError(t, err)
				assert.Equal(t, "https://env.example.com/app.git", cfg.RepoURL)
			case fileSet:
				require.NoError(t, err)
				assert.Equal(t, "https://file.example.com/app.git", cfg.RepoURL)
			default:
				assert.True(t, errors.Is(err, ErrMissingRepoURL), "expected ErrMissingRepoURL, got %v", err)
			}
		})
	}
}

func boolName(b bool) string {
	if b {
		return "set"
	}
	return "unset"
}

func TestResolveDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Resolve(mapLookup(map[string]string{EnvRepoURL: "https://example.com/app.git"}), nil, Options{DefaultInstallRoot: root})
	require.NoError(t, err)

	assert.Equal(t, DefaultBranch, cfg.Branch)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.False(t, cfg.DevReload)
	assert.Equal(t, root, cfg.InstallRoot)
	assert.Empty(t, cfg.ConfigFile)
	assert.Empty(t, cfg.Warnings)
}

func TestResolveMissingRepoURL(t *testing.T) {
	root := t.TempDir()
	_, err := Resolve(mapLookup(nil), CandidatePaths(mapLookup(nil), Options{DefaultInstallRoot: root}), Options{DefaultInstallRoot: root})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRepoURL)
}

func TestResolveFirstParseableFileWins(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.json", `{"host": "10.0.0.1"}`)
	second := writeFile(t, dir, "second.json", `{"app_repo_url": "https://second.example.com/app.git", "port": 9000}`)

	// The first file is only partially populated; the second must not be consulted.
	_, err := Resolve(mapLookup(nil), []string{first, second}, Options{DefaultInstallRoot: dir})
	require.ErrorIs(t, err, ErrMissingRepoURL)

	cfg, err := Resolve(mapLookup(map[string]string{EnvRepoURL: "https://env.example.com/app.git"}), []string{first, second}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.Equal(t, first, cfg.ConfigFile)
	assert.Equal(t, "10.0.0.1", cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestResolveMalformedFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.json", `{"app_repo_url": `)
	good := writeFile(t, dir, "good.json", `{"app_repo_url": "https://good.example.com/app.git"}`)

	cfg, err := Resolve(mapLookup(nil), []string{filepath.Join(dir, "missing.json"), bad, good}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.Equal(t, good, cfg.ConfigFile)
	assert.Equal(t, "https://good.example.com/app.git", cfg.RepoURL)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "bad.json")
}

func TestResolveMalformedOnlyFileFallsBackToEnv(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, ConfigFileName, `not json`)

	cfg, err := Resolve(mapLookup(map[string]string{EnvRepoURL: "https://env.example.com/app.git"}), []string{bad}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigFile)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestResolveLegacyKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ConfigFileName, `{"repo_url": "https://legacy.example.com/app.git", "branch": "stable"}`)

	cfg, err := Resolve(mapLookup(nil), []string{path}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.Equal(t, "https://legacy.example.com/app.git", cfg.RepoURL)
	assert.Equal(t, "stable", cfg.Branch)

	// New keys take precedence over legacy keys in the same file.
	path = writeFile(t, dir, "both.json", `{"repo_url": "https://legacy.example.com/app.git", "app_repo_url": "https://new.example.com/app.git"}`)
	cfg, err = Resolve(mapLookup(nil), []string{path}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com/app.git", cfg.RepoURL)
}

func TestResolvePort(t *testing.T) {
	tests := []struct {
		name       string
		envPort    string
		filePort   string
		want       int
		wantSource Source
		wantWarn   bool
	}{
		{name: "env wins", envPort: "9100", filePort: "9200", want: 9100, wantSource: SourceEnv},
		{name: "env zero means unset", envPort: "0", filePort: "9200", want: 9200, wantSource: SourceFile},
		{name: "env not numeric", envPort: "abc", filePort: "9200", want: 9200, wantSource: SourceFile, wantWarn: true},
		{name: "env out of range", envPort: "70000", want: DefaultPort, wantSource: SourceDefault, wantWarn: true},
		{name: "file string port", filePort: `"9300"`, want: 9300, wantSource: SourceFile},
		{name: "file out of range", filePort: "0", want: DefaultPort, wantSource: SourceDefault, wantWarn: true},
		{name: "default", want: DefaultPort, wantSource: SourceDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			env := map[string]string{EnvRepoURL: "https://example.com/app.git"}
			if tt.envPort != "" {
				env[EnvPort] = tt.envPort
			}
			content := `{}`
			if tt.filePort != "" {
				content = `{"port": ` + tt.filePort + `}`
			}
			path := writeFile(t, dir, ConfigFileName, content)

			cfg, err := Resolve(mapLookup(env), []string{path}, Options{DefaultInstallRoot: dir})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Port)
			assert.Equal(t, tt.wantSource, cfg.Sources["port"])
			assert.Equal(t, tt.wantWarn, len(cfg.Warnings) > 0, "warnings: %v", cfg.Warnings)
		})
	}
}

func TestResolveDevReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ConfigFileName, `{"app_repo_url": "https://example.com/app.git", "dev_reload": true}`)

	cfg, err := Resolve(mapLookup(nil), []string{path}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.True(t, cfg.DevReload)

	cfg, err = Resolve(mapLookup(map[string]string{EnvDevReload: "false"}), []string{path}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.False(t, cfg.DevReload)
	assert.Equal(t, SourceEnv, cfg.Sources["dev_reload"])

	cfg, err = Resolve(mapLookup(map[string]string{EnvDevReload: "maybe"}), []string{path}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.True(t, cfg.DevReload)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestResolveInstallRoot(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()

	t.Run("env overrides default", func(t *testing.T) {
		cfg, err := Resolve(mapLookup(map[string]string{
			EnvRepoURL:     "https://example.com/app.git",
			EnvInstallRoot: other,
		}), nil, Options{DefaultInstallRoot: dir})
		require.NoError(t, err)
		assert.Equal(t, other, cfg.InstallRoot)
		assert.Equal(t, SourceEnv, cfg.Sources["install_root"])
	})

	t.Run("relative file value is relative to the config file", func(t *testing.T) {
		path := writeFile(t, dir, ConfigFileName, `{"app_repo_url": "https://example.com/app.git", "install_root": "sub"}`)
		cfg, err := Resolve(mapLookup(nil), []string{path}, Options{DefaultInstallRoot: dir})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "sub"), cfg.InstallRoot)
		assert.Equal(t, SourceFile, cfg.Sources["install_root"])
	})
}

func TestResolveYAMLCandidate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "localis.yaml", "app_repo_url: https://yaml.example.com/app.git\nport: 8100\nhost: 0.0.0.0\n")

	cfg, err := Resolve(mapLookup(nil), []string{path}, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.Equal(t, "https://yaml.example.com/app.git", cfg.RepoURL)
	assert.Equal(t, 8100, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
}

func TestResolvePackagedFromEnv(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Resolve(mapLookup(map[string]string{
		EnvRepoURL:  "https://example.com/app.git",
		EnvPackaged: "true",
	}), nil, Options{DefaultInstallRoot: dir})
	require.NoError(t, err)
	assert.True(t, cfg.Packaged)
}

func TestCandidatePaths(t *testing.T) {
	root := t.TempDir()
	bundle := t.TempDir()
	explicit := filepath.Join(root, "custom.json")

	paths := CandidatePaths(mapLookup(map[string]string{EnvConfigPath: explicit}), Options{
		DefaultInstallRoot: root,
		BundleRoot:         bundle,
	})
	assert.Equal(t, []string{
		explicit,
		filepath.Join(root, ConfigFileName),
		filepath.Join(bundle, ConfigFileName),
	}, paths)

	// Same install and bundle root is listed once.
	paths = CandidatePaths(mapLookup(nil), Options{DefaultInstallRoot: root, BundleRoot: root})
	assert.Equal(t, []string{filepath.Join(root, ConfigFileName)}, paths)

	// LOCALIS_INSTALL_ROOT moves the search.
	paths = CandidatePaths(mapLookup(map[string]string{EnvInstallRoot: bundle}), Options{DefaultInstallRoot: root})
	assert.Equal(t, []string{filepath.Join(bundle, ConfigFileName)}, paths)
}

func TestConfigValidate(t *testing.T) {
	base := Config{RepoURL: "https://example.com/app.git", Branch: "main", Port: 8000, InstallRoot: t.TempDir()}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing repo", mutate: func(c *Config) { c.RepoURL = " " }, wantErr: true},
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.Port = 65536 }, wantErr: true},
		{name: "empty branch", mutate: func(c *Config) { c.Branch = "" }, wantErr: true},
		{name: "relative root", mutate: func(c *Config) { c.InstallRoot = "relative" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFlag(t *testing.T) {
	lookup := mapLookup(map[string]string{"A": "1", "B": "false", "C": "yes-please", "D": " true "})
	assert.True(t, Flag(lookup, "A"))
	assert.False(t, Flag(lookup, "B"))
	assert.False(t, Flag(lookup, "C"))
	assert.True(t, Flag(lookup, "D"))
	assert.False(t, Flag(lookup, "unset"))
}
