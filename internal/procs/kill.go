package procs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// DefaultPackageProcesses lists every executable shipped with the diagnostic
// package that may keep its files locked. Matching is exact and
// case-insensitive.
var DefaultPackageProcesses = []string{
	"AWFInterpreter_vc80.exe",
	"LctPOLUX.exe",
	"AWRSrv.exe",
	"MCComm.exe",
	"fbguard.exe",
	"fbserver.exe",
	"httpd_ddc.exe",
	"diagnostic.exe",
	"awacscmd.exe",
	"awrcmd.exe",
	"AWACSserver.exe",
	"psaagent.exe",
	"psaSingleSignOnDaemon.exe",
	"psalance.exe",
	"sim.exe",
	"FirefoxPortable.exe",
	"Ftspssrv.exe",
	"j9w.exe",
	"eclipse.exe",
	"Java.exe",
	"Jusched.exe",
	"Pg_ctl.exe",
	"Postgres.exe",
	"Sed.exe",
	"DccFsmRunner.exe",
	"DdcECUReader.exe",
	"WSTransformer.exe",
	"partialtrace.exe",
	"psainterfaceservice.exe",
	"Ground.exe",
	"instsvc.exe",
	"instreg.exe",
	"Psarefreshredwire.exe",
	"PSA-AUTH_Killer.exe",
	"Diagbox.exe",
}

// KillByName force-kills every process whose name equals one of names,
// ignoring case. It returns the processes that were killed; failures are
// aggregated and do not stop the sweep.
func KillByName(ctx context.Context, inv Inventory, names []string) ([]Process, error) {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = struct{}{}
	}

	list, err := inv.Processes(ctx)
	if err != nil {
		return nil, err
	}

	var (
		killed []Process
		merr   *multierror.Error
	)
	for _, p := range list {
		if _, ok := wanted[strings.ToLower(p.Name)]; !ok {
			continue
		}
		if err := inv.Kill(ctx, p.PID); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("kill %s (pid %d): %w", p.Name, p.PID, err))
			continue
		}
		killed = append(killed, p)
	}
	return killed, merr.ErrorOrNil()
}

// TerminateLeftovers gracefully stops stray instances of the named program,
// other than self, such as an updater helper left over from a previous run.
func TerminateLeftovers(ctx context.Context, inv Inventory, name string, self int32, grace time.Duration) ([]Process, error) {
	list, err := inv.Processes(ctx)
	if err != nil {
		return nil, err
	}

	var (
		stopped []Process
		merr    *multierror.Error
	)
	for _, p := range list {
		if p.PID == self || !strings.EqualFold(p.Name, name) {
			continue
		}
		if err := TerminateGracefully(ctx, inv, p.PID, grace); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		stopped = append(stopped, p)
	}
	return stopped, merr.ErrorOrNil()
}
