package menu

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"psadiag/internal/app"
	"psadiag/internal/history"
	"psadiag/internal/installation"
	"psadiag/internal/release"
	"psadiag/internal/sysreq"
	"psadiag/internal/ui"
)

func TestFormatMenuItems(t *testing.T) {
	noop := func(context.Context) error { return nil }
	options := []MenuOption{
		{Label: "1. Download", Description: "fetch", Handler: noop, Color: "green", Enabled: true},
		{Label: "2. Hidden", Handler: noop, Color: "green", Enabled: false},
		{Label: "10. Quit", Handler: noop, Color: "red", Enabled: true},
	}

	items, indexes := formatMenuItems(options)
	assert.Equal(t, []string{
		"🟢  1. Download  fetch",
		"🔴 10. Quit",
	}, items)
	assert.Equal(t, []int{0, 2}, indexes)

	items, indexes = formatMenuItems(nil)
	assert.Nil(t, items)
	assert.Nil(t, indexes)
}

func TestBuildMenuEntries(t *testing.T) {
	entries := buildMenuEntries([]MenuOption{
		{Label: "Unnumbered", Enabled: true},
		{Label: "3. Status", Color: "yellow", Enabled: true},
	})
	assert.Equal(t, []menuEntry{
		{prefix: "⚪", textPart: "Unnumbered", originalIndex: 0},
		{prefix: "🟡", numberPart: "3", textPart: "Status", originalIndex: 1},
	}, entries)
}

func TestStatusPrefix(t *testing.T) {
	tests := map[string]string{
		"red":    "🔴",
		"green":  "🟢",
		"yellow": "🟡",
		"cyan":   "🔵",
		"":       "⚪",
	}
	for color, want := range tests {
		assert.Equal(t, want, statusPrefix(color), color)
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	p := ui.NewPrinterTo(&buf, false)

	PrintStatus(p, app.StatusReport{
		AppVersion:   "2.1.0.9",
		AppUpdate:    release.AppUpdate{Current: "2.1.0.9", Latest: "2.2.0.0", Available: true},
		InstalledErr: installation.ErrNotInstalled,
		Published:    "09.186",
		Latest:       release.Option{Display: "Diagbox 09.186", Version: "09.186"},
		Archives:     []release.LocalArchive{{Version: "09.186", Size: 2048}},
		Requirements: sysreq.Report{Items: []sysreq.Item{
			{Name: "Memory", Required: 3 << 30, Actual: 8 << 30, Known: true, OK: true},
			{Name: "Disk", Required: 15 << 30},
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "[ ! ] Update (version 2.2.0.0 available)")
	assert.Contains(t, out, "[ ! ] Installed (not installed)")
	assert.Contains(t, out, "Published:         09.186")
	assert.Contains(t, out, "09.186:            2.0 KiB")
	assert.Contains(t, out, "[ ✓ ] Memory (Memory: 8.0 GiB of 3.0 GiB required, OK)")
	assert.Contains(t, out, "[ - ] Disk (Disk: unknown (required 15 GiB))")
	assert.NotContains(t, out, "Last update")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	p := ui.NewPrinterTo(&buf, false)

	PrintHistory(p, nil)
	assert.Contains(t, buf.String(), "no operation recorded yet")

	buf.Reset()
	PrintHistory(p, []history.Entry{
		{Kind: history.KindDownload, Subject: "09.186", Outcome: history.OutcomeFailed, Message: "boom", FinishedAt: time.Now()},
		{Kind: history.KindKill, Outcome: history.OutcomeSucceeded, FinishedAt: time.Now()},
		{Kind: history.KindClean, Outcome: history.OutcomeCancelled, FinishedAt: time.Now()},
	})

	out := buf.String()
	assert.Contains(t, out, "[ ✕ ] download 09.186 (")
	assert.Contains(t, out, "boom)")
	assert.Contains(t, out, "[ ✓ ] kill (")
	assert.Contains(t, out, "[ ! ] clean (")
}
