package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const appDirName = "PSA_DIAG"

// Paths are the resolved local directories and files used at runtime.
type Paths struct {
	ConfigDir   string
	DownloadDir string
	UpdatesDir  string
	LogFile     string
	Database    string
	// ResultDir receives the outcome file written by the updater helper.
	ResultDir string
}

// DefaultConfigDir returns the per-user application directory
// (%APPDATA%\PSA_DIAG on Windows).
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate user config directory")
	}
	return filepath.Join(base, appDirName), nil
}

// DefaultConfigFile returns the location of the optional user config file.
func DefaultConfigFile() string {
	dir, err := DefaultConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// ResolvePaths fills in the directories left empty in cfg.
func ResolvePaths(cfg *Config) (Paths, error) {
	configDir := cfg.Paths.ConfigDir
	if configDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return Paths{}, err
		}
		configDir = dir
	}

	downloadDir := cfg.Paths.DownloadDir
	if downloadDir == "" {
		downloadDir = filepath.Join(configDir, "download")
	}

	return Paths{
		ConfigDir:   configDir,
		DownloadDir: downloadDir,
		UpdatesDir:  filepath.Join(configDir, "updates"),
		LogFile:     filepath.Join(configDir, "logs", "psadiag.log"),
		Database:    filepath.Join(configDir, "history.db"),
		ResultDir:   filepath.Join(configDir, "updates"),
	}, nil
}

// Ensure creates every directory in p.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.ConfigDir, p.DownloadDir, p.UpdatesDir, filepath.Dir(p.LogFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create directory: %s", dir)
		}
	}
	return nil
}
