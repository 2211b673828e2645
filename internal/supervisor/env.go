package supervisor

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Environment variables passed to the application.
const (
	EnvModelPath   = "MODEL_PATH"
	EnvDataDir     = "LOCALIS_DATA_DIR"
	EnvInstallRoot = "LOCALIS_INSTALL_ROOT"
	EnvGitExe      = "LOCALIS_GIT_EXE"
	EnvPythonPath  = "PYTHONPATH"
	EnvPath        = "PATH"
)

// AppModule is the ASGI application the child serves.
const AppModule = "app.main:app"

// Command returns the child's argv.
func Command(spec LaunchSpec) []string {
	args := []string{
		spec.Interpreter, "-m", "uvicorn",
		AppModule,
		"--host", spec.Host,
		"--port", strconv.Itoa(spec.Port),
		"--app-dir", spec.AppDir,
	}
	if spec.DevReload {
		args = append(args, "--reload")
	}
	return args
}

// Environment returns the child's environment: base (os.Environ when nil)
// with the application variables laid over it.
func Environment(spec LaunchSpec) []string {
	base := spec.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	env := append([]string(nil), base...)

	env = setEnv(env, EnvModelPath, spec.ModelsDir)
	env = setEnv(env, EnvDataDir, spec.DataDir)
	env = setEnv(env, EnvInstallRoot, spec.InstallRoot)
	env = setEnv(env, EnvPythonPath, prependList(spec.AppDir, getEnv(env, EnvPythonPath)))

	switch {
	case spec.GitBundled && spec.Git != "":
		// The application runs git itself for its update endpoints
		env = setEnv(env, EnvGitExe, spec.Git)
		env = setEnv(env, EnvPath, prependList(filepath.Dir(spec.Git), getEnv(env, EnvPath)))
	case spec.Git != "":
		env = setEnv(env, EnvGitExe, spec.Git)
	default:
		env = setEnv(env, EnvGitExe, "git")
	}
	return env
}

func prependList(first, rest string) string {
	if rest == "" {
		return first
	}
	return first + string(os.PathListSeparator) + rest
}

func keyMatches(entry, key string) bool {
	name, _, ok := strings.Cut(entry, "=")
	if !ok {
		return false
	}
	if runtime.GOOS == "windows" {
		return strings.EqualFold(name, key)
	}
	return name == key
}

func getEnv(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if keyMatches(env[i], key) {
			_, v, _ := strings.Cut(env[i], "=")
			return v
		}
	}
	return ""
}

// setEnv replaces every existing entry for key with a single key=value.
func setEnv(env []string, key, value string) []string {
	out := env[:0]
	for _, entry := range env {
		if !keyMatches(entry, key) {
			out = append(out, entry)
		}
	}
	return append(out, key+"="+value)
}
