package main

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/chzyer/readline"

	"github.com/localis-app/launcher/internal/config"
)

// environment is what the commands read from the process. Tests build
// their own.
type environment struct {
	lookup   config.LookupFunc
	stdout   io.Writer
	stderr   io.Writer
	packaged bool
	// exeDir is the launcher executable's directory.
	exeDir string
	cwd    string
	// interactive is true when stdin is a terminal someone can answer.
	interactive bool
}

func defaultEnvironment() environment {
	env := environment{
		lookup:      os.LookupEnv,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: readline.DefaultIsTerminal(),
	}
	env.packaged, _ = strconv.ParseBool(packaged)
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		env.exeDir = filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		env.cwd = wd
	}
	return env
}

// resolverOptions derives the resolver inputs. Packaged mode comes from the
// build, overridable through LOCALIS_PACKAGED.
func (e environment) resolverOptions() config.Options {
	isPackaged := e.packaged
	if v, ok := e.lookup(config.EnvPackaged); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			isPackaged = b
		}
	}
	if isPackaged {
		return config.Options{Packaged: true, BundleRoot: e.exeDir, DefaultInstallRoot: e.exeDir}
	}
	return config.Options{DefaultInstallRoot: e.cwd}
}

// resolveConfig runs the config resolver against this environment.
func (e environment) resolveConfig() (*config.Config, error) {
	opts := e.resolverOptions()
	return config.Resolve(e.lookup, config.CandidatePaths(e.lookup, opts), opts)
}
