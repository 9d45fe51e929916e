package menu

import (
	"fmt"

	humanize "github.com/dustin/go-humanize"

	"psadiag/internal/app"
	"psadiag/internal/history"
	"psadiag/internal/installation"
	"psadiag/internal/ui"
)

// PrintStatus renders a StatusReport.
func PrintStatus(p *ui.Printer, r app.StatusReport) {
	p.PrintHeading("PSA-DIAG")
	p.PrintField("Version", r.AppVersion)
	switch {
	case r.AppUpdateErr != nil:
		p.PrintStatus("Update check", ui.StatusUnknown, r.AppUpdateErr.Error())
	case r.AppUpdate.Available:
		p.PrintStatus("Update", ui.StatusWarning, "version "+r.AppUpdate.Latest+" available")
	default:
		p.PrintStatus("Update", ui.StatusOK, "up to date")
	}
	if r.LastUpdate != nil {
		when := humanize.Time(r.LastUpdate.ExecutedAt)
		if r.LastUpdate.Success {
			p.PrintStatus("Last update", ui.StatusOK, "applied "+when)
		} else {
			p.PrintStatus("Last update", ui.StatusFailed, r.LastUpdate.Error+", "+when)
		}
	}

	p.PrintHeading("Diagbox")
	switch {
	case app.NotInstalled(r.InstalledErr):
		p.PrintStatus("Installed", ui.StatusMissing, "not installed")
	case r.InstalledErr != nil:
		p.PrintStatus("Installed", ui.StatusFailed, r.InstalledErr.Error())
	default:
		p.PrintStatus("Installed", ui.StatusOK, r.Installed)
		if r.Language != "" {
			p.PrintField("Language", fmt.Sprintf("%s (%s)", installation.LookupLanguage(r.Language), r.Language))
		}
	}

	switch {
	case r.PublishedErr != nil:
		p.PrintStatus("Published", ui.StatusUnknown, r.PublishedErr.Error())
	default:
		p.PrintField("Published", r.Published)
	}
	if r.LatestErr == nil {
		p.PrintField("Latest download", r.Latest.Display)
	}

	p.PrintHeading("Downloaded archives")
	if len(r.Archives) == 0 {
		p.PrintField("Archives", "none")
	}
	for _, a := range r.Archives {
		p.PrintField(a.Version, humanize.IBytes(uint64(a.Size)))
	}

	p.PrintHeading("System requirements")
	for _, item := range r.Requirements.Items {
		status := ui.StatusOK
		switch {
		case !item.Known:
			status = ui.StatusUnknown
		case !item.OK:
			status = ui.StatusFailed
		}
		p.PrintStatus(item.Name, status, item.String())
	}
}

// PrintHistory renders journal entries, newest first.
func PrintHistory(p *ui.Printer, entries []history.Entry) {
	if len(entries) == 0 {
		p.PrintField("History", "no operation recorded yet")
		return
	}
	for _, e := range entries {
		label := string(e.Kind)
		if e.Subject != "" {
			label += " " + e.Subject
		}
		detail := humanize.Time(e.FinishedAt)
		if e.Message != "" {
			detail += ", " + e.Message
		}
		p.PrintStatus(label, outcomeStatus(e.Outcome), detail)
	}
}

func outcomeStatus(o history.Outcome) ui.Status {
	switch o {
	case history.OutcomeSucceeded:
		return ui.StatusOK
	case history.OutcomeFailed:
		return ui.StatusFailed
	case history.OutcomeCancelled:
		return ui.StatusWarning
	default:
		return ui.StatusUnknown
	}
}
