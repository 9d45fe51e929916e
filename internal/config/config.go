// Package config loads the tool configuration: embedded defaults merged with
// an optional user file.
package config

import (
	_ "embed"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"psadiag/internal/procs"
)

//go:embed defaults.yaml
var embeddedDefaults []byte

// Config is the complete runtime configuration.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Endpoints    EndpointsConfig    `yaml:"endpoints"`
	Paths        PathsConfig        `yaml:"paths"`
	Download     DownloadConfig     `yaml:"download"`
	Extractor    ExtractorConfig    `yaml:"extractor"`
	Cleanup      CleanupConfig      `yaml:"cleanup"`
	Processes    []string           `yaml:"processes"`
	Host         HostConfig         `yaml:"host"`
	Requirements RequirementsConfig `yaml:"requirements"`
	Update       UpdateConfig       `yaml:"update"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// EndpointsConfig lists the remote metadata documents.
type EndpointsConfig struct {
	AppVersion     string        `yaml:"app_version"`
	PackageVersion string        `yaml:"package_version"`
	VersionOptions string        `yaml:"version_options"`
	Releases       string        `yaml:"releases"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

type PathsConfig struct {
	ConfigDir   string `yaml:"config_dir"`
	DownloadDir string `yaml:"download_dir"`
	// InstallRoot is the extraction destination.
	InstallRoot string `yaml:"install_root"`
	// PackageRoot is where the extracted package lives.
	PackageRoot string `yaml:"package_root"`
}

type DownloadConfig struct {
	ChunkSize  int           `yaml:"chunk_size"`
	FlushEvery int           `yaml:"flush_every"`
	Timeout    time.Duration `yaml:"timeout"`
	CheckSize  bool          `yaml:"check_size"`
}

type ExtractorConfig struct {
	Candidates  []string      `yaml:"candidates"`
	Password    string        `yaml:"password"`
	GracePeriod time.Duration `yaml:"grace_period"`
	VerifyPaths []string      `yaml:"verify_paths"`
}

type CleanupConfig struct {
	Folders   []string `yaml:"folders"`
	Shortcuts []string `yaml:"shortcuts"`
}

// HostConfig locates the installers run around extraction and cleanup.
type HostConfig struct {
	PowerShell         string         `yaml:"powershell"`
	DefenderExclusions []string       `yaml:"defender_exclusions"`
	Driver             DriverConfig   `yaml:"driver"`
	Runtimes           RuntimesConfig `yaml:"runtimes"`
}

type DriverConfig struct {
	Installer string `yaml:"installer"`
	Source    string `yaml:"source"`
	Marker    string `yaml:"marker"`
	INF       string `yaml:"inf"`
}

type RuntimesConfig struct {
	Installer string   `yaml:"installer"`
	Args      []string `yaml:"args"`
}

type RequirementsConfig struct {
	MinRAMGB      float64 `yaml:"min_ram_gb"`
	MinFreeDiskGB float64 `yaml:"min_free_disk_gb"`
	DiskPath      string  `yaml:"disk_path"`
}

type UpdateConfig struct {
	UpdaterName    string        `yaml:"updater_name"`
	Timeout        time.Duration `yaml:"timeout"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	HolderWait     time.Duration `yaml:"holder_wait"`
	AssetExtension string        `yaml:"asset_extension"`
}

// Defaults returns the embedded default configuration.
func Defaults() (*Config, error) {
	cfg, err := Parse(embeddedDefaults)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded defaults")
	}
	if len(cfg.Processes) == 0 {
		cfg.Processes = append([]string(nil), procs.DefaultPackageProcesses...)
	}
	return cfg, nil
}

// Parse decodes configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if len(data) == 0 {
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	return &cfg, nil
}

// Load returns the defaults merged with the file at path. A missing file is
// not an error; an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	base, err := Defaults()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return Merge(base), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Merge(base), nil
		}
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}

	override, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid config file: %s", path)
	}
	return Merge(base, override), nil
}

// Merge overlays the non-zero values of later configurations onto the first.
// Lists replace rather than append.
func Merge(cfgs ...*Config) *Config {
	var result Config
	for i, cfg := range cfgs {
		if cfg == nil {
			continue
		}
		if i == 0 {
			result = *cfg
			continue
		}

		setString(&result.App.Name, cfg.App.Name)
		setString(&result.App.Version, cfg.App.Version)

		setString(&result.Endpoints.AppVersion, cfg.Endpoints.AppVersion)
		setString(&result.Endpoints.PackageVersion, cfg.Endpoints.PackageVersion)
		setString(&result.Endpoints.VersionOptions, cfg.Endpoints.VersionOptions)
		setString(&result.Endpoints.Releases, cfg.Endpoints.Releases)
		setDuration(&result.Endpoints.Timeout, cfg.Endpoints.Timeout)
		setInt(&result.Endpoints.MaxRetries, cfg.Endpoints.MaxRetries)

		setString(&result.Paths.ConfigDir, cfg.Paths.ConfigDir)
		setString(&result.Paths.DownloadDir, cfg.Paths.DownloadDir)
		setString(&result.Paths.InstallRoot, cfg.Paths.InstallRoot)
		setString(&result.Paths.PackageRoot, cfg.Paths.PackageRoot)

		setInt(&result.Download.ChunkSize, cfg.Download.ChunkSize)
		setInt(&result.Download.FlushEvery, cfg.Download.FlushEvery)
		setDuration(&result.Download.Timeout, cfg.Download.Timeout)
		result.Download.CheckSize = result.Download.CheckSize || cfg.Download.CheckSize

		setList(&result.Extractor.Candidates, cfg.Extractor.Candidates)
		setString(&result.Extractor.Password, cfg.Extractor.Password)
		setDuration(&result.Extractor.GracePeriod, cfg.Extractor.GracePeriod)
		setList(&result.Extractor.VerifyPaths, cfg.Extractor.VerifyPaths)

		setList(&result.Cleanup.Folders, cfg.Cleanup.Folders)
		setList(&result.Cleanup.Shortcuts, cfg.Cleanup.Shortcuts)
		setList(&result.Processes, cfg.Processes)

		setString(&result.Host.PowerShell, cfg.Host.PowerShell)
		setList(&result.Host.DefenderExclusions, cfg.Host.DefenderExclusions)
		setString(&result.Host.Driver.Installer, cfg.Host.Driver.Installer)
		setString(&result.Host.Driver.Source, cfg.Host.Driver.Source)
		setString(&result.Host.Driver.Marker, cfg.Host.Driver.Marker)
		setString(&result.Host.Driver.INF, cfg.Host.Driver.INF)
		setString(&result.Host.Runtimes.Installer, cfg.Host.Runtimes.Installer)
		setList(&result.Host.Runtimes.Args, cfg.Host.Runtimes.Args)

		if cfg.Requirements.MinRAMGB > 0 {
			result.Requirements.MinRAMGB = cfg.Requirements.MinRAMGB
		}
		if cfg.Requirements.MinFreeDiskGB > 0 {
			result.Requirements.MinFreeDiskGB = cfg.Requirements.MinFreeDiskGB
		}
		setString(&result.Requirements.DiskPath, cfg.Requirements.DiskPath)

		setString(&result.Update.UpdaterName, cfg.Update.UpdaterName)
		setDuration(&result.Update.Timeout, cfg.Update.Timeout)
		setDuration(&result.Update.WaitTimeout, cfg.Update.WaitTimeout)
		setDuration(&result.Update.HolderWait, cfg.Update.HolderWait)
		setString(&result.Update.AssetExtension, cfg.Update.AssetExtension)
	}

	applyFallbacks(&result)
	return &result
}

func applyFallbacks(cfg *Config) {
	if cfg.Endpoints.Timeout <= 0 {
		cfg.Endpoints.Timeout = 10 * time.Second
	}
	if cfg.Endpoints.MaxRetries <= 0 {
		cfg.Endpoints.MaxRetries = 3
	}
	if cfg.Download.ChunkSize <= 0 {
		cfg.Download.ChunkSize = 8 * 1024
	}
	if cfg.Download.FlushEvery <= 0 {
		cfg.Download.FlushEvery = 100
	}
	if cfg.Download.Timeout <= 0 {
		cfg.Download.Timeout = 30 * time.Second
	}
	if cfg.Extractor.GracePeriod <= 0 {
		cfg.Extractor.GracePeriod = 5 * time.Second
	}
	if cfg.Update.Timeout <= 0 {
		cfg.Update.Timeout = 60 * time.Second
	}
	if cfg.Update.HolderWait <= 0 {
		cfg.Update.HolderWait = 10 * time.Second
	}
	if cfg.Update.UpdaterName == "" {
		cfg.Update.UpdaterName = "updater.exe"
	}
	if len(cfg.Processes) == 0 {
		cfg.Processes = append([]string(nil), procs.DefaultPackageProcesses...)
	}
}

func setString(dst *string, v string) {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		*dst = trimmed
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string(nil), v...)
	}
}
