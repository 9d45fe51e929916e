package ui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"

	"psadiag/internal/download"
	"psadiag/internal/progress"
)

const (
	barWidth   = 30
	labelWidth = 28
	lineWidth  = 100
)

// renderBar draws a fixed-width bar for permille in [0,1000]. A negative
// permille renders an indeterminate bar that moves with tick.
func renderBar(permille int, tick int) string {
	if permille < 0 {
		pos := tick % barWidth
		cells := []rune(strings.Repeat("░", barWidth))
		for i := 0; i < 3; i++ {
			cells[(pos+i)%barWidth] = '█'
		}
		return "[" + string(cells) + "]"
	}
	if permille > progress.PermilleDone {
		permille = progress.PermilleDone
	}
	filled := permille * barWidth / progress.PermilleDone
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}

// fitLabel pads or truncates label to exactly width terminal cells.
func fitLabel(label string, width int) string {
	label = runewidth.Truncate(label, width, "…")
	return runewidth.FillRight(label, width)
}

func transferLine(label string, ev download.Event, tick int) string {
	status := ev.Report.String()
	if ev.Total > 0 {
		status = fmt.Sprintf("%s - %s / %s", status, humanize.IBytes(uint64(ev.Bytes)), humanize.IBytes(uint64(ev.Total)))
	}
	return fmt.Sprintf("%s %s %s", fitLabel(label, labelWidth), renderBar(ev.Report.Permille, tick), status)
}

func percentLine(label string, percent int, detail string) string {
	line := fmt.Sprintf("%s %s %3d%%", fitLabel(label, labelWidth), renderBar(percent*10, 0), percent)
	if detail != "" {
		line += " " + detail
	}
	return line
}

// clampLine keeps a redrawn line within the terminal width.
func clampLine(line string) string {
	return fitLabel(line, lineWidth)
}
