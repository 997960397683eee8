package config

import (
	"fmt"
	"os"
	path "path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// AppName is the binary's name, used as the viper env var prefix the way
// the teacher uses its own AppName for AppEnvPrefix.
const AppName = "git-remote-blossom"

// AppEnvPrefix is the prefix viper uses for environment variable overrides,
// e.g. GIT_REMOTE_BLOSSOM_CONCURRENCY=8.
var AppEnvPrefix = strings.ToUpper(strings.ReplaceAll(AppName, "-", "_"))

// DefaultDataDirName is the directory created under GIT_DIR to hold the
// Blossom key store (spec.md §4.2).
const DefaultDataDirName = "blossom"

// LoadFromEnv builds an AppConfig for gitDir, applying any
// GIT_REMOTE_BLOSSOM_* environment overrides via viper, the way the teacher
// layers env vars over defaults with AppEnvPrefix.
func LoadFromEnv(gitDir string) (*AppConfig, error) {
	if gitDir == "" {
		return nil, errors.New("GIT_DIR is not set")
	}

	v := viper.New()
	v.SetEnvPrefix(AppEnvPrefix)
	v.AutomaticEnv()
	v.SetDefault("git_bin_path", "git")
	v.SetDefault("concurrency", DefaultConcurrency)

	cfg := EmptyAppConfig()
	cfg.DataDir = path.Join(gitDir, DefaultDataDirName)
	cfg.GitBinPath = v.GetString("git_bin_path")
	if n := v.GetInt("concurrency"); n > 0 {
		cfg.Concurrency = n
	}

	return cfg, nil
}

// ExpandHome resolves a leading "~" the way the teacher's DefaultDataDir does
// via go-homedir, for config values a user might type by hand. LoadFromEnv
// does not call it: the data dir is derived from GIT_DIR as is.
func ExpandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve home directory")
	}
	return path.Join(home, strings.TrimPrefix(p, "~")), nil
}

// SetVerbosityFromString parses the `option verbosity N` argument.
func SetVerbosityFromString(cfg *AppConfig, s string) error {
	switch s {
	case "0":
		cfg.Verbosity = VerbosityError
	case "1":
		cfg.Verbosity = VerbosityInfo
	case "2":
		cfg.Verbosity = VerbosityDebug
	default:
		return fmt.Errorf("unsupported verbosity level %q", s)
	}
	switch cfg.Verbosity {
	case VerbosityDebug:
		cfg.G().Log.SetToDebug()
	case VerbosityError:
		cfg.G().Log.SetToError()
	default:
		cfg.G().Log.SetToInfo()
	}
	return nil
}

// GitDirFromEnv reads GIT_DIR, the way git always sets it for remote helper
// child processes (spec.md §6 "Environment").
func GitDirFromEnv() string {
	return os.Getenv("GIT_DIR")
}
