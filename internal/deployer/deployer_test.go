package deployer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/logger"
)

// fakeExecutor answers every command with out and records it.
type fakeExecutor struct {
	out   Output
	err   error
	calls []Command
	// onRun runs before answering, e.g. to register the driver.
	onRun func(Command)
}

func (e *fakeExecutor) Run(_ context.Context, cmd Command) (Output, error) {
	e.calls = append(e.calls, cmd)
	if e.onRun != nil {
		e.onRun(cmd)
	}
	return e.out, e.err
}

type layout struct {
	dir string
	cfg Config
}

func newLayout(t *testing.T) layout {
	t.Helper()
	dir := t.TempDir()
	return layout{
		dir: dir,
		cfg: Config{
			DefenderExclusions: []string{`C:\AWRoot`, `C:\INSTALL`},
			Driver: DriverConfig{
				Installer: filepath.Join(dir, "AWRoot", "drivers", "DPInst.exe"),
				Source:    filepath.Join(dir, "AWRoot", "drivers", "dp"),
				Marker:    filepath.Join(dir, "store", "vcommusb.ini"),
				INF:       filepath.Join(dir, "store", "vcommusb", "vcommusb.inf"),
			},
			Runtimes: RuntimesConfig{
				Installer: filepath.Join(dir, "AWRoot", "runtimes", "runtimes.exe"),
				Args:      []string{"/ai", "/gm2"},
			},
		},
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func newDeployer(l layout, exec *fakeExecutor) *Deployer {
	return New(l.cfg, logger.NewMockLogger(), WithExecutor(exec))
}

func TestInstallDriver(t *testing.T) {
	tests := []struct {
		name       string
		installer  bool
		registered bool
		exitCode   int
		registers  bool
		want       Status
		wantCalls  int
	}{
		{"installer missing", false, false, 0, false, StatusMissing, 0},
		{"already registered", true, true, 0, false, StatusAlreadyPresent, 0},
		{"installed", true, false, 0, true, StatusDone, 1},
		{"reboot required", true, false, 256, false, StatusRebootRequired, 1},
		{"exit zero without registration", true, false, 0, false, StatusFailed, 1},
		{"installer error", true, false, 2, false, StatusFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayout(t)
			if tt.installer {
				touch(t, l.cfg.Driver.Installer)
			}
			if tt.registered {
				touch(t, l.cfg.Driver.Marker)
			}
			exec := &fakeExecutor{out: Output{ExitCode: tt.exitCode}}
			if tt.registers {
				exec.onRun = func(Command) { touch(t, l.cfg.Driver.Marker) }
			}

			report := newDeployer(l, exec).InstallDriver(context.Background())
			assert.Equal(t, tt.want, report.Status, report.Message)
			require.Len(t, exec.calls, tt.wantCalls)
			if tt.wantCalls > 0 {
				cmd := exec.calls[0]
				assert.Equal(t, l.cfg.Driver.Installer, cmd.Name)
				assert.Equal(t, []string{"/PATH", l.cfg.Driver.Source}, cmd.Args)
				assert.Equal(t, filepath.Dir(l.cfg.Driver.Installer), cmd.Dir)
				assert.True(t, cmd.Interactive)
			}
			assert.Equal(t, !tt.want.OK(), report.Warning() != "")
		})
	}
}

func TestInstallDriverFailureCarriesCode(t *testing.T) {
	l := newLayout(t)
	touch(t, l.cfg.Driver.Installer)
	exec := &fakeExecutor{out: Output{ExitCode: 3, Stderr: "access denied\n"}}

	report := newDeployer(l, exec).InstallDriver(context.Background())
	require.Equal(t, StatusFailed, report.Status)
	assert.True(t, apperrors.HasCode(report.Err, apperrors.CodeDriver))
	assert.Equal(t, "VCI driver: driver installer exited with code 3: access denied", report.Warning())
}

func TestUninstallDriver(t *testing.T) {
	tests := []struct {
		name      string
		inf       bool
		installer bool
		exitCode  int
		want      Status
	}{
		{"not installed", false, true, 0, StatusSkipped},
		{"installer missing", true, false, 0, StatusMissing},
		{"uninstalled", true, true, 0, StatusDone},
		{"uninstall error", true, true, 1, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayout(t)
			if tt.inf {
				touch(t, l.cfg.Driver.INF)
			}
			if tt.installer {
				touch(t, l.cfg.Driver.Installer)
			}
			exec := &fakeExecutor{out: Output{ExitCode: tt.exitCode}}

			report := newDeployer(l, exec).UninstallDriver(context.Background())
			assert.Equal(t, tt.want, report.Status, report.Message)
			if tt.want == StatusDone || tt.want == StatusFailed {
				require.Len(t, exec.calls, 1)
				assert.Equal(t, []string{"/U", l.cfg.Driver.INF, "/S"}, exec.calls[0].Args)
				assert.False(t, exec.calls[0].Interactive)
			} else {
				assert.Empty(t, exec.calls)
			}
		})
	}
}

func TestInstallRuntimes(t *testing.T) {
	t.Run("missing installer is a warning", func(t *testing.T) {
		l := newLayout(t)
		report := newDeployer(l, &fakeExecutor{}).InstallRuntimes(context.Background())
		assert.Equal(t, StatusMissing, report.Status)
		assert.Contains(t, report.Warning(), "runtimes.exe")
	})

	t.Run("silent install", func(t *testing.T) {
		l := newLayout(t)
		touch(t, l.cfg.Runtimes.Installer)
		exec := &fakeExecutor{}
		report := newDeployer(l, exec).InstallRuntimes(context.Background())
		assert.Equal(t, StatusDone, report.Status)
		require.Len(t, exec.calls, 1)
		assert.Equal(t, []string{"/ai", "/gm2"}, exec.calls[0].Args)
	})

	t.Run("start failure", func(t *testing.T) {
		l := newLayout(t)
		touch(t, l.cfg.Runtimes.Installer)
		exec := &fakeExecutor{out: Output{ExitCode: -1}, err: errors.New("not a valid application")}
		report := newDeployer(l, exec).InstallRuntimes(context.Background())
		assert.Equal(t, StatusFailed, report.Status)
		assert.True(t, apperrors.HasCode(report.Err, apperrors.CodeRuntimes))
	})
}

func TestAddDefenderExclusions(t *testing.T) {
	tests := []struct {
		name   string
		out    Output
		want   Status
		detail string
	}{
		{"added list", Output{Stdout: `{"added":["C:\\AWRoot","C:\\INSTALL"],"failed":[]}`}, StatusDone, `C:\AWRoot, C:\INSTALL`},
		{"added single", Output{Stdout: `{"added":"C:\\AWRoot","failed":null}`}, StatusDone, `C:\AWRoot`},
		{"nothing to add", Output{Stdout: `{"added":[],"failed":[]}`}, StatusAlreadyPresent, "no changes"},
		{"some failed", Output{Stdout: `{"added":[],"failed":["C:\\INSTALL"]}`}, StatusFailed, `C:\INSTALL`},
		{"script error", Output{ExitCode: 1, Stderr: "Get-MpPreference: access denied"}, StatusFailed, "access denied"},
		{"garbage", Output{Stdout: "not json"}, StatusFailed, "unreadable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayout(t)
			exec := &fakeExecutor{out: tt.out}

			report := newDeployer(l, exec).AddDefenderExclusions(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Contains(t, report.Message, tt.detail)

			require.Len(t, exec.calls, 1)
			cmd := exec.calls[0]
			assert.Equal(t, "powershell.exe", cmd.Name)
			assert.Equal(t, []string{"-NoProfile", "-NonInteractive", "-Command"}, cmd.Args[:3])
			assert.Contains(t, cmd.Args[3], `'C:\AWRoot','C:\INSTALL'`)
		})
	}
}

func TestAddDefenderExclusionsWithoutPaths(t *testing.T) {
	l := newLayout(t)
	l.cfg.DefenderExclusions = nil
	exec := &fakeExecutor{}

	report := newDeployer(l, exec).AddDefenderExclusions(context.Background())
	assert.Equal(t, StatusSkipped, report.Status)
	assert.Empty(t, report.Warning())
	assert.Empty(t, exec.calls)
}

func TestExclusionScriptQuotes(t *testing.T) {
	script := exclusionScript([]string{`C:\Program Files\O'Brien`})
	assert.Contains(t, script, `'C:\Program Files\O''Brien'`)
}
