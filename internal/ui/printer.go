package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Status is a high level health indicator for a status line.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
	StatusMissing Status = "missing"
	StatusUnknown Status = "unknown"
)

// Printer renders rich terminal UI fragments used by the CLI.
type Printer struct {
	out          io.Writer
	colorEnabled bool
	success      *color.Color
	info         *color.Color
	warn         *color.Color
	error        *color.Color
	plain        *color.Color
}

// NewPrinter constructs a Printer writing to stdout, with colour enabled for
// terminals unless NO_COLOR is set.
func NewPrinter() *Printer {
	return NewPrinterTo(os.Stdout, supportsColor(os.Stdout) && os.Getenv("NO_COLOR") == "")
}

// NewPrinterTo constructs a Printer writing to out.
func NewPrinterTo(out io.Writer, colorEnabled bool) *Printer {
	if out == nil {
		out = io.Discard
	}
	p := &Printer{
		out:          out,
		colorEnabled: colorEnabled,
		success:      color.New(color.FgGreen, color.Bold),
		info:         color.New(color.FgBlue, color.Bold),
		warn:         color.New(color.FgYellow, color.Bold),
		error:        color.New(color.FgRed, color.Bold),
		plain:        color.New(color.Reset),
	}

	if !colorEnabled {
		p.success.DisableColor()
		p.info.DisableColor()
		p.warn.DisableColor()
		p.error.DisableColor()
		p.plain.DisableColor()
	}

	return p
}

// PrintBanner renders the application banner.
func (p *Printer) PrintBanner(version string) {
	lines := []string{
		"=========================================================",
		"    ____  _____ ___        ____  _______   ______ ",
		"   / __ \\/ ___//   |      / __ \\/  _/   | / ____/ ",
		"  / /_/ /\\__ \\/ /| |_____/ / / // // /| |/ / __   ",
		" / ____/___/ / ___ /_____/ /_/ // // ___ / /_/ /   ",
		"/_/    /____/_/  |_|    /_____/___/_/  |_\\____/    ",
		"",
		"Diagbox download, install and maintenance",
		"Version: " + version,
		"=========================================================",
	}

	for _, line := range lines {
		p.success.Fprintln(p.out, line)
	}
}

// PrintSeparator prints a repeated character separator.
func (p *Printer) PrintSeparator(char string, length int) {
	if length <= 0 {
		return
	}
	fmt.Fprintln(p.out, strings.Repeat(char, length))
}

// PrintHeading prints a section title.
func (p *Printer) PrintHeading(title string) {
	p.info.Fprintln(p.out, title)
}

// PrintField prints an aligned "label: value" line.
func (p *Printer) PrintField(label, value string) {
	fmt.Fprintf(p.out, "%s %s\n", p.info.Sprintf("%-18s", label+":"), value)
}

// PrintStatus renders a status indicator line.
func (p *Printer) PrintStatus(label string, status Status, detail string) {
	var mark string

	switch status {
	case StatusOK:
		mark = p.success.Sprint("✓")
	case StatusFailed:
		mark = p.error.Sprint("✕")
	case StatusWarning, StatusMissing:
		mark = p.warn.Sprint("!")
	default:
		mark = "-"
	}

	if detail == "" {
		fmt.Fprintf(p.out, "[ %s ] %s\n", mark, label)
		return
	}
	fmt.Fprintf(p.out, "[ %s ] %s (%s)\n", mark, label, detail)
}

// Success prints a green message line.
func (p *Printer) Success(format string, args ...interface{}) {
	p.success.Fprintf(p.out, format+"\n", args...)
}

// Warn prints a yellow message line.
func (p *Printer) Warn(format string, args ...interface{}) {
	p.warn.Fprintf(p.out, format+"\n", args...)
}

// Error prints a red message line.
func (p *Printer) Error(format string, args ...interface{}) {
	p.error.Fprintf(p.out, format+"\n", args...)
}

func supportsColor(w *os.File) bool {
	return term.IsTerminal(int(w.Fd()))
}
