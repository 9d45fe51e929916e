// Command updater replaces the PSA-DIAG executable once the running instance
// has exited, then optionally starts the new version.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"psadiag/internal/config"
	"psadiag/internal/logger"
	"psadiag/internal/selfupdate"
)

const (
	exitFlags  = 1
	exitFailed = 2
)

var (
	target    string
	newPath   string
	waitPID   int32
	restart   bool
	timeout   int
	resultDir string

	// replaceFailed distinguishes a failed replacement from a usage error.
	replaceFailed bool

	rootCmd = &cobra.Command{
		Use:           "updater --target <exe> --new <exe>",
		Short:         "Replace the PSA-DIAG executable with a new version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&target, "target", "", "executable to replace")
	rootCmd.Flags().StringVar(&newPath, "new", "", "downloaded executable")
	rootCmd.Flags().Int32Var(&waitPID, "wait-pid", 0, "pid to wait for before replacing")
	rootCmd.Flags().BoolVar(&restart, "restart", false, "start the target once replaced")
	rootCmd.Flags().IntVar(&timeout, "timeout", int(selfupdate.DefaultTimeout/time.Second), "seconds allowed for each stage")
	rootCmd.Flags().StringVar(&resultDir, "result-dir", "", "directory receiving the update result (default <config dir>/updates)")
	_ = rootCmd.MarkFlagRequired("target")
	_ = rootCmd.MarkFlagRequired("new")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if replaceFailed {
		os.Exit(exitFailed)
	}
	os.Exit(exitFlags)
}

func run(cmd *cobra.Command, _ []string) error {
	if timeout <= 0 {
		return errors.Errorf("invalid --timeout %d", timeout)
	}

	cfg, err := config.Load(config.DefaultConfigFile())
	if err != nil {
		return err
	}
	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return err
	}
	if resultDir == "" {
		resultDir = paths.ResultDir
	}

	log := logger.NewColoredLogger(
		logger.WithRotatingFile(filepath.Join(filepath.Dir(paths.LogFile), "updater.log")),
		logger.WithFields(logger.String("component", "updater")),
	)
	defer log.Close()

	timing := selfupdate.DefaultTiming()
	if cfg.Update.HolderWait > 0 {
		timing.HolderWait = cfg.Update.HolderWait
	}
	protocol := selfupdate.NewProtocol(log,
		selfupdate.WithTiming(timing),
		selfupdate.WithStatus(func(status string) { fmt.Println(status) }),
	)
	results := selfupdate.NewResultHandler(resultDir, log)

	req := selfupdate.Request{
		Target:  target,
		New:     newPath,
		WaitPID: waitPID,
		Restart: restart,
		Timeout: time.Duration(timeout) * time.Second,
	}

	for {
		report, err := protocol.Run(cmd.Context(), req)

		outcome := selfupdate.Outcome{
			Success:    err == nil,
			Target:     target,
			Relaunched: report.Relaunched,
			ExecutedAt: time.Now(),
		}
		if err != nil {
			outcome.Error = err.Error()
		}
		if werr := results.Write(outcome); werr != nil {
			log.Warn("Failed to record the update result: %v", werr)
		}

		if err == nil {
			if report.RelaunchErr != nil {
				log.Warn("Updated, but PSA-DIAG could not be restarted: %v", report.RelaunchErr)
			}
			fmt.Println("Update complete")
			return nil
		}

		log.Error("Update failed: %v", err)
		if cmd.Context().Err() != nil || !term.IsTerminal(int(os.Stdin.Fd())) || !askRetry() {
			replaceFailed = true
			return err
		}
	}
}

func askRetry() bool {
	prompt := promptui.Prompt{
		Label:     "Close any program using PSA-DIAG. Retry update",
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}
