package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psadiag/internal/cleanup"
	"psadiag/internal/config"
	"psadiag/internal/deployer"
	"psadiag/internal/download"
	apperrors "psadiag/internal/errors"
	"psadiag/internal/extract"
	"psadiag/internal/history"
	"psadiag/internal/installation"
	"psadiag/internal/logger"
	"psadiag/internal/pipeline"
	"psadiag/internal/procs/procstest"
	"psadiag/internal/selfupdate"
)

const gib = 1 << 30

var archiveBody = bytes.Repeat([]byte("7z"), 4096)

// recorder is a Presenter that keeps what it was shown.
type recorder struct {
	mu        sync.Mutex
	steps     []string
	failed    []string
	transfers int
	extracts  []int
	cleanups  int
}

func (r *recorder) StepStarted(s pipeline.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s.Name)
}

func (r *recorder) StepDone(pipeline.Step) {}

func (r *recorder) StepFailed(s pipeline.Step, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, s.Name)
}

func (r *recorder) Transfer(string, download.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers++
}

func (r *recorder) Extract(ev extract.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extracts = append(r.extracts, ev.Percent)
}

func (r *recorder) Cleanup(cleanup.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups++
}

func (r *recorder) EndProgress() {}

type fakeCapacity struct{ ram, disk uint64 }

func (p fakeCapacity) TotalMemory(context.Context) (uint64, error)      { return p.ram, nil }
func (p fakeCapacity) FreeDisk(context.Context, string) (uint64, error) { return p.disk, nil }

type fakeLauncher struct {
	mu    sync.Mutex
	calls [][]string
}

func (l *fakeLauncher) Launch(path string, args ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, append([]string{path}, args...))
	return nil
}

// fakeStarter pretends to run the extraction tool: it writes the version
// file into the package root and prints two progress lines.
type fakeStarter struct {
	root    string
	version string
	args    []string
}

func (s *fakeStarter) Start(_ context.Context, _ string, args []string) (extract.Process, error) {
	s.args = args
	path := installation.VersionPath(s.root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte("[Diagbox]\nVersion="+s.version+"\n"), 0o644); err != nil {
		return nil, err
	}
	return &fakeProcess{
		stdout: strings.NewReader("50% 1 - AWRoot/bin/a.dll\n100% 2 - AWRoot/bin/fi/Version.ini\n"),
		done:   make(chan struct{}),
	}, nil
}

type fakeProcess struct {
	stdout io.Reader
	done   chan struct{}
	once   sync.Once
}

func (p *fakeProcess) Pid() int          { return 4242 }
func (p *fakeProcess) Stdout() io.Reader { return p.stdout }
func (p *fakeProcess) Done() <-chan struct{} {
	return p.done
}
func (p *fakeProcess) Wait() (int, string, error) {
	p.once.Do(func() { close(p.done) })
	return 0, "", nil
}
func (p *fakeProcess) Terminate() error { return nil }
func (p *fakeProcess) Kill() error      { return nil }

// fakeExecutor answers installer commands by executable name.
type fakeExecutor struct {
	mu    sync.Mutex
	exit  map[string]int
	onRun map[string]func()
	calls []deployer.Command
}

func (e *fakeExecutor) Run(_ context.Context, cmd deployer.Command) (deployer.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, cmd)
	name := filepath.Base(cmd.Name)
	if fn := e.onRun[name]; fn != nil {
		fn()
	}
	return deployer.Output{ExitCode: e.exit[name]}, nil
}

func (e *fakeExecutor) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for _, c := range e.calls {
		names = append(names, filepath.Base(c.Name))
	}
	return names
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

type fixture struct {
	app      *App
	cfg      *config.Config
	paths    config.Paths
	view     *recorder
	inv      *procstest.Fake
	journal  *history.SQLiteRepository
	launcher *fakeLauncher
	starter  *fakeStarter
	exec     *fakeExecutor
	answers  []string
	srv      *httptest.Server
	baseDir  string
}

func newFixture(t *testing.T, confirm bool, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/options.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"display_name":"Diagbox 09.85","version":"09.85","url":"%[1]s/09.85.7z"},
			{"display_name":"Diagbox 09.186","version":"09.186","url":"%[1]s/09.186.7z"}]`, srv.URL)
	})
	mux.HandleFunc("/app.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"2.2.0.0"}`)
	})
	mux.HandleFunc("/package.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"09.186"}`)
	})
	mux.HandleFunc("/releases", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"tag_name":"v2.2.0.0","assets":[{"name":"PSA-DIAG.exe","browser_download_url":"%s/PSA-DIAG.exe","size":%d}]}`,
			srv.URL, len(archiveBody))
	})
	serveBody := func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "body", time.Time{}, bytes.NewReader(archiveBody))
	}
	mux.HandleFunc("/09.186.7z", serveBody)
	mux.HandleFunc("/PSA-DIAG.exe", serveBody)

	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.App.Version = "2.1.0.9"
	cfg.Endpoints.AppVersion = srv.URL + "/app.json"
	cfg.Endpoints.PackageVersion = srv.URL + "/package.json"
	cfg.Endpoints.VersionOptions = srv.URL + "/options.json"
	cfg.Endpoints.Releases = srv.URL + "/releases"
	cfg.Endpoints.MaxRetries = 0
	cfg.Paths.ConfigDir = filepath.Join(dir, "config")
	cfg.Paths.InstallRoot = filepath.Join(dir, "install")
	cfg.Paths.PackageRoot = filepath.Join(dir, "install", "AWRoot")
	cfg.Extractor.Candidates = []string{"7za"}
	cfg.Extractor.VerifyPaths = []string{installation.VersionPath(cfg.Paths.PackageRoot)}
	cfg.Cleanup.Folders = []string{cfg.Paths.PackageRoot, filepath.Join(dir, "install", "APP")}
	cfg.Cleanup.Shortcuts = []string{filepath.Join(dir, "Diagbox.lnk")}
	cfg.Host.DefenderExclusions = nil
	cfg.Host.Driver = config.DriverConfig{
		Installer: filepath.Join(cfg.Paths.PackageRoot, "Extra", "Drivers", "DPInst.exe"),
		Source:    filepath.Join(cfg.Paths.PackageRoot, "Extra", "Drivers", "xsevo"),
		Marker:    filepath.Join(dir, "store", "vcommusb.ini"),
		INF:       filepath.Join(dir, "store", "vcommusb", "vcommusb.inf"),
	}
	cfg.Host.Runtimes = config.RuntimesConfig{
		Installer: filepath.Join(cfg.Paths.PackageRoot, "Extra", "runtimes", "runtimes.exe"),
		Args:      []string{"/ai", "/gm2"},
	}

	paths, err := config.ResolvePaths(cfg)
	require.NoError(t, err)
	require.NoError(t, paths.Ensure())

	journal, err := history.Open(context.Background(), paths.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	f := &fixture{
		cfg:      cfg,
		paths:    paths,
		view:     &recorder{},
		inv:      procstest.New(procstest.Proc{PID: 10, Name: "Diagbox.exe"}, procstest.Proc{PID: 11, Name: "explorer.exe"}),
		journal:  journal,
		launcher: &fakeLauncher{},
		starter:  &fakeStarter{root: cfg.Paths.PackageRoot, version: "09.186"},
		exec:     &fakeExecutor{exit: map[string]int{}, onRun: map[string]func(){}},
		srv:      srv,
		baseDir:  filepath.Join(dir, "bin"),
	}

	lookPath := func(name string) (string, error) { return "/usr/bin/" + name, nil }
	base := []Option{
		WithPresenter(f.view),
		WithConfirm(func(q string) bool {
			f.answers = append(f.answers, q)
			return confirm
		}),
		WithJournal(journal),
		WithHTTPClient(srv.Client()),
		WithInventory(f.inv),
		WithLauncher(f.launcher),
		WithCapacity(fakeCapacity{ram: 8 * gib, disk: 100 * gib}),
		WithExtractor(f.starter, f.baseDir, lookPath),
		WithExecutable(func() (string, error) { return filepath.Join(f.baseDir, "psadiag.exe"), nil }, 777),
		WithSetupExecutor(f.exec),
	}
	f.app = New(cfg, paths, logger.NewMockLogger(), append(base, opts...)...)
	return f
}

func (f *fixture) recent(t *testing.T) []history.Entry {
	t.Helper()
	entries, err := f.app.History(context.Background(), 10)
	require.NoError(t, err)
	return entries
}

func TestDownloadThenSkip(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	report, err := f.app.Download(ctx, DownloadRequest{})
	require.NoError(t, err)
	assert.Equal(t, "09.186", report.Option.Version)
	assert.Equal(t, filepath.Join(f.paths.DownloadDir, "09.186.7z"), report.Path)
	assert.True(t, report.Result.OK())
	assert.Positive(t, f.view.transfers)

	data, err := os.ReadFile(report.Path)
	require.NoError(t, err)
	assert.Equal(t, archiveBody, data)

	again, err := f.app.Download(ctx, DownloadRequest{Version: "Diagbox 09.186"})
	require.NoError(t, err)
	assert.True(t, again.Skipped)

	entries := f.recent(t)
	require.Len(t, entries, 2)
	assert.Equal(t, history.OutcomeSkipped, entries[0].Outcome)
	assert.Equal(t, history.OutcomeSucceeded, entries[1].Outcome)
	assert.Equal(t, history.KindDownload, entries[1].Kind)
	assert.Equal(t, "09.186", entries[1].Subject)
}

func TestDownloadErrors(t *testing.T) {
	t.Run("unknown version", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.app.Download(context.Background(), DownloadRequest{Version: "01.00"})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationGeneric))
	})

	t.Run("requirements declined", func(t *testing.T) {
		f := newFixture(t, false, WithCapacity(fakeCapacity{ram: 2 * gib, disk: 100 * gib}))
		report, err := f.app.Download(context.Background(), DownloadRequest{})
		require.Error(t, err)
		assert.False(t, report.Requirements.OK())
		require.Len(t, f.answers, 1)
		assert.Contains(t, f.answers[0], "Memory")
		assert.NoFileExists(t, filepath.Join(f.paths.DownloadDir, "09.186.7z"))

		entries := f.recent(t)
		require.Len(t, entries, 1)
		assert.Equal(t, history.OutcomeFailed, entries[0].Outcome)
	})

	t.Run("requirements skipped", func(t *testing.T) {
		f := newFixture(t, false, WithCapacity(fakeCapacity{ram: 2 * gib, disk: 1 * gib}))
		_, err := f.app.Download(context.Background(), DownloadRequest{SkipRequirements: true})
		require.NoError(t, err)
		assert.Empty(t, f.answers)
	})
}

func TestInstallSelectsNewestArchive(t *testing.T) {
	f := newFixture(t, false)
	for _, name := range []string{"09.85.7z", "09.186.7z", "Diagbox_Install_09.125_PSA_DIAG.7z"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.paths.DownloadDir, name), []byte("7z"), 0o644))
	}

	report, err := f.app.Install(context.Background(), InstallRequest{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.paths.DownloadDir, "09.186.7z"), report.Archive.Path)
	assert.Equal(t, "09.186", report.Installed)
	assert.True(t, report.Result.OK)
	require.Len(t, report.Killed, 1)
	assert.Equal(t, "Diagbox.exe", report.Killed[0].Name)
	assert.Equal(t, []int32{10}, f.inv.Killed())

	assert.Contains(t, f.starter.args, report.Archive.Path)
	assert.Contains(t, f.starter.args, "-o"+f.cfg.Paths.InstallRoot)
	assert.Contains(t, f.view.extracts, 100)
	assert.Equal(t, []string{
		"Stopping Diagbox processes",
		"Adding Defender exclusions",
		"Extracting 09.186.7z",
		"Installing VCI driver",
		"Installing runtimes",
		"Verifying installation",
	}, f.view.steps)
}

func TestInstallRunsHostSetup(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(f.paths.DownloadDir, "09.186.7z"), []byte("7z"), 0o644))
	// The extracted package carries both installers.
	writeFile(t, f.cfg.Host.Driver.Installer)
	writeFile(t, f.cfg.Host.Runtimes.Installer)
	f.exec.onRun["DPInst.exe"] = func() { writeFile(t, f.cfg.Host.Driver.Marker) }
	f.exec.exit["runtimes.exe"] = 1

	report, err := f.app.Install(context.Background(), InstallRequest{})
	require.NoError(t, err)
	assert.Equal(t, "09.186", report.Installed)
	assert.Equal(t, []string{"DPInst.exe", "runtimes.exe"}, f.exec.names())

	require.Len(t, report.Setup, 3)
	assert.Equal(t, deployer.StatusSkipped, report.Setup[0].Status)
	assert.Equal(t, deployer.StatusDone, report.Setup[1].Status)
	assert.Equal(t, deployer.StatusFailed, report.Setup[2].Status)
	assert.False(t, report.RebootRequired())
	assert.Equal(t, []string{"Runtimes: runtimes installer exited with code 1"}, report.Warnings())

	entries := f.recent(t)
	require.Len(t, entries, 1)
	assert.Equal(t, history.OutcomeSucceeded, entries[0].Outcome)
	assert.Contains(t, entries[0].Message, "runtimes installer exited with code 1")
}

func TestInstallMissingInstallersAreWarnings(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(f.paths.DownloadDir, "09.186.7z"), []byte("7z"), 0o644))

	report, err := f.app.Install(context.Background(), InstallRequest{})
	require.NoError(t, err)
	assert.Empty(t, f.exec.names())
	require.Len(t, report.Warnings(), 2)
	assert.Contains(t, report.Warnings()[0], "VCI driver: installer not found")
	assert.Contains(t, report.Warnings()[1], "Runtimes: installer not found")
}

func TestInstallSelection(t *testing.T) {
	f := newFixture(t, false)
	legacy := filepath.Join(f.paths.DownloadDir, "Diagbox_Install_09.125_PSA_DIAG.7z")
	require.NoError(t, os.WriteFile(legacy, []byte("7z"), 0o644))

	tests := []struct {
		name    string
		req     InstallRequest
		want    string
		wantErr bool
	}{
		{"by version", InstallRequest{Version: "09.125_PSA_DIAG"}, legacy, false},
		{"explicit path", InstallRequest{Archive: legacy}, legacy, false},
		{"missing version", InstallRequest{Version: "09.999"}, "", true},
		{"missing path", InstallRequest{Archive: filepath.Join(f.paths.DownloadDir, "nope.7z")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive, err := f.app.selectArchive(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationGeneric))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, archive.Path)
		})
	}
}

func TestInstallRequiresCleanInstallation(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(f.paths.DownloadDir, "09.186.7z"), []byte("7z"), 0o644))
	versionFile := installation.VersionPath(f.cfg.Paths.PackageRoot)
	require.NoError(t, os.MkdirAll(filepath.Dir(versionFile), 0o755))
	require.NoError(t, os.WriteFile(versionFile, []byte("[Diagbox]\nVersion=09.85\n"), 0o644))

	_, err := f.app.Install(context.Background(), InstallRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "09.85")
	assert.Nil(t, f.starter.args)
	assert.FileExists(t, versionFile)
}

func TestInstallCleansWhenConfirmed(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(f.paths.DownloadDir, "09.186.7z"), []byte("7z"), 0o644))
	versionFile := installation.VersionPath(f.cfg.Paths.PackageRoot)
	require.NoError(t, os.MkdirAll(filepath.Dir(versionFile), 0o755))
	require.NoError(t, os.WriteFile(versionFile, []byte("[Diagbox]\nVersion=09.85\n"), 0o644))

	report, err := f.app.Install(context.Background(), InstallRequest{})
	require.NoError(t, err)
	assert.Equal(t, "09.186", report.Installed)
	assert.Positive(t, f.view.cleanups)

	entries := f.recent(t)
	require.Len(t, entries, 2)
	assert.Equal(t, history.KindInstall, entries[0].Kind)
	assert.Equal(t, history.KindClean, entries[1].Kind)
}

func TestClean(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		f := newFixture(t, false)
		require.NoError(t, os.MkdirAll(f.cfg.Paths.PackageRoot, 0o755))

		_, err := f.app.Clean(context.Background(), CleanRequest{})
		require.ErrorIs(t, err, ErrCancelled)
		assert.DirExists(t, f.cfg.Paths.PackageRoot)
		require.Len(t, f.answers, 1)
		assert.Equal(t, "Remove 1 folder(s) and 0 shortcut(s)?", f.answers[0])
		assert.Equal(t, history.OutcomeCancelled, f.recent(t)[0].Outcome)
	})

	t.Run("confirmed", func(t *testing.T) {
		f := newFixture(t, true)
		require.NoError(t, os.MkdirAll(f.cfg.Paths.PackageRoot, 0o755))
		shortcut := f.cfg.Cleanup.Shortcuts[0]
		require.NoError(t, os.WriteFile(shortcut, nil, 0o644))

		report, err := f.app.Clean(context.Background(), CleanRequest{})
		require.NoError(t, err)
		assert.True(t, report.Result.OK())
		assert.NoDirExists(t, f.cfg.Paths.PackageRoot)
		assert.NoFileExists(t, shortcut)
		assert.Equal(t, 2, f.view.cleanups)
	})

	t.Run("nothing to remove", func(t *testing.T) {
		f := newFixture(t, true)
		report, err := f.app.Clean(context.Background(), CleanRequest{})
		require.NoError(t, err)
		assert.True(t, report.Batch.Empty())
		assert.Empty(t, f.answers)
		assert.Equal(t, history.OutcomeSkipped, f.recent(t)[0].Outcome)
	})
}

func TestCleanDefersDriverFolder(t *testing.T) {
	tests := []struct {
		name     string
		exit     int
		wantErr  bool
		wantKept bool
	}{
		{"driver removed first", 0, false, false},
		{"driver removal failed", 1, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			writeFile(t, f.cfg.Host.Driver.Installer)
			writeFile(t, f.cfg.Host.Driver.INF)
			appDir := f.cfg.Cleanup.Folders[1]
			require.NoError(t, os.MkdirAll(appDir, 0o755))

			var rootDuringUninstall bool
			f.exec.onRun["DPInst.exe"] = func() {
				_, err := os.Stat(f.cfg.Host.Driver.Installer)
				rootDuringUninstall = err == nil
			}
			f.exec.exit["DPInst.exe"] = tt.exit

			report, err := f.app.Clean(context.Background(), CleanRequest{})
			assert.True(t, rootDuringUninstall)
			assert.NoDirExists(t, appDir)
			require.Len(t, f.exec.calls, 1)
			assert.Equal(t, []string{"/U", f.cfg.Host.Driver.INF, "/S"}, f.exec.calls[0].Args)
			assert.Contains(t, f.view.steps, "Removing driver folders")

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, deployer.StatusFailed, report.Driver.Status)
				require.Len(t, report.Result.Failed, 1)
				assert.Equal(t, f.cfg.Paths.PackageRoot, report.Result.Failed[0].Item.Path)
				assert.Contains(t, report.Result.Failed[0].Message, "kept for the driver installer")
				assert.Equal(t, history.OutcomeFailed, f.recent(t)[0].Outcome)
			} else {
				require.NoError(t, err)
				assert.Equal(t, deployer.StatusDone, report.Driver.Status)
				assert.True(t, report.Result.OK())
			}
			assert.Equal(t, tt.wantKept, dirExists(f.cfg.Paths.PackageRoot))
		})
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func TestKill(t *testing.T) {
	f := newFixture(t, true)
	killed, err := f.app.Kill(context.Background())
	require.NoError(t, err)
	require.Len(t, killed, 1)
	assert.Equal(t, int32(10), killed[0].PID)

	entries := f.recent(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "1 process(es) stopped", entries[0].Message)
}

func TestLaunch(t *testing.T) {
	f := newFixture(t, true)
	require.Error(t, f.app.Launch(context.Background()))

	launcher := installation.LauncherPath(f.cfg.Paths.PackageRoot)
	require.NoError(t, os.MkdirAll(filepath.Dir(launcher), 0o755))
	require.NoError(t, os.WriteFile(launcher, nil, 0o755))

	require.NoError(t, f.app.Launch(context.Background()))
	require.Len(t, f.launcher.calls, 1)
	assert.Equal(t, []string{launcher}, f.launcher.calls[0])
}

func TestSelfUpdateLaunchesUpdater(t *testing.T) {
	f := newFixture(t, true)
	bundled := filepath.Join(f.baseDir, "tools", f.cfg.Update.UpdaterName)
	require.NoError(t, os.MkdirAll(filepath.Dir(bundled), 0o755))
	require.NoError(t, os.WriteFile(bundled, []byte("updater"), 0o755))

	report, err := f.app.SelfUpdate(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, report.Spawned)
	assert.Equal(t, "2.2.0.0", report.Update.Latest)
	assert.Equal(t, filepath.Join(f.paths.UpdatesDir, "PSA-DIAG.exe"), report.Downloaded)
	assert.Equal(t, filepath.Join(f.paths.ConfigDir, f.cfg.Update.UpdaterName), report.Updater)
	assert.FileExists(t, report.Updater)

	require.Len(t, f.launcher.calls, 1)
	assert.Equal(t, []string{
		report.Updater,
		"--target", filepath.Join(f.baseDir, "psadiag.exe"),
		"--new", report.Downloaded,
		"--wait-pid", "777",
		"--restart",
		"--timeout", "15",
		"--result-dir", f.paths.ResultDir,
	}, f.launcher.calls[0])
}

func TestSelfUpdateUpToDate(t *testing.T) {
	f := newFixture(t, true)
	f.cfg.App.Version = "2.2.0.0"

	report, err := f.app.SelfUpdate(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, report.Spawned)
	assert.Empty(t, f.launcher.calls)
	assert.Equal(t, history.OutcomeSkipped, f.recent(t)[0].Outcome)
}

func TestStartupConsumesOutcome(t *testing.T) {
	f := newFixture(t, true)
	results := selfupdate.NewResultHandler(f.paths.ResultDir, logger.NewMockLogger())
	require.NoError(t, results.Write(selfupdate.Outcome{
		Success:    false,
		Error:      "target still locked",
		Target:     "psadiag.exe",
		ExecutedAt: time.Now(),
	}))

	outcome, err := f.app.Startup(context.Background())
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, "target still locked", outcome.Error)

	again, err := f.app.Startup(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)

	entries := f.recent(t)
	require.Len(t, entries, 1)
	assert.Equal(t, history.KindSelfUpdate, entries[0].Kind)
	assert.Equal(t, history.OutcomeFailed, entries[0].Outcome)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(f.paths.DownloadDir, "09.186.7z"), []byte("7z"), 0o644))

	status := f.app.Status(context.Background())
	assert.True(t, NotInstalled(status.InstalledErr))
	assert.NoError(t, status.AppUpdateErr)
	assert.True(t, status.AppUpdate.Available)
	require.NoError(t, status.LatestErr)
	assert.Equal(t, "09.186", status.Latest.Version)
	assert.Equal(t, "09.186", status.Published)
	assert.Len(t, status.Archives, 1)
	assert.True(t, status.Requirements.OK())
	assert.Nil(t, status.LastUpdate)
}
