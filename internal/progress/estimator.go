// Package progress turns raw transfer counters into the normalised progress,
// throughput and ETA values shown to the operator.
package progress

import (
	"fmt"
	"math"
	"time"
)

const (
	// PermilleUnknown is reported when the total size is not known.
	PermilleUnknown = -1
	// PermilleDone is the value of a finished transfer.
	PermilleDone = 1000

	// ETAUnknown is shown while no throughput has been measured yet.
	ETAUnknown = "--:--"

	bytesPerMB = 1024 * 1024

	// MaxETA bounds estimates at a stalled throughput.
	MaxETA = 999*time.Minute + 59*time.Second
)

// Report is a single progress observation.
type Report struct {
	// Permille is in [0,1000], or PermilleUnknown.
	Permille       int
	ThroughputMBps float64
	// ETA is "MM:SS" or ETAUnknown when the total is known, otherwise the
	// cumulative megabytes transferred ("12.3 MB").
	ETA string
}

// Known reports whether the report carries a real permille value.
func (r Report) Known() bool {
	return r.Permille != PermilleUnknown
}

// Percent returns the progress as a percentage with one decimal of precision.
func (r Report) Percent() float64 {
	if !r.Known() {
		return 0
	}
	return float64(r.Permille) / 10
}

// String renders the status line, e.g. "12.3% - 4.5 MB/s - 01:23".
func (r Report) String() string {
	if !r.Known() {
		return fmt.Sprintf("-- - %.1f MB/s - %s", r.ThroughputMBps, r.ETA)
	}
	return fmt.Sprintf("%.1f%% - %.1f MB/s - %s", r.Percent(), r.ThroughputMBps, r.ETA)
}

// Estimate computes a Report from bytes transferred so far, the wall-clock time
// since the transfer started and the total size (0 when unknown).
func Estimate(bytes int64, elapsed time.Duration, total int64) Report {
	if bytes < 0 {
		bytes = 0
	}

	var throughput float64 // bytes per second
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(bytes) / secs
	}

	report := Report{ThroughputMBps: throughput / bytesPerMB}

	if total <= 0 {
		report.Permille = PermilleUnknown
		report.ETA = fmt.Sprintf("%.1f MB", float64(bytes)/bytesPerMB)
		return report
	}

	report.Permille = permille(bytes, total)

	if throughput <= 0 {
		report.ETA = ETAUnknown
		return report
	}

	remaining := total - bytes
	if remaining < 0 {
		remaining = 0
	}
	eta := MaxETA
	if secs := float64(remaining) / throughput; secs < MaxETA.Seconds() {
		eta = time.Duration(secs * float64(time.Second))
	}
	report.ETA = FormatETA(eta)
	return report
}

// Final is the report emitted once a transfer of known size has finished.
func Final() Report {
	return Report{Permille: PermilleDone, ETA: "00:00"}
}

// FormatETA renders d as MM:SS, clamped to [0, MaxETA]. Minutes are not
// wrapped into hours.
func FormatETA(d time.Duration) string {
	switch {
	case d < 0:
		d = 0
	case d > MaxETA:
		d = MaxETA
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func permille(bytes, total int64) int {
	// Integer arithmetic keeps floor() exact for multi-gigabyte sizes; fall back
	// to float math only when bytes*1000 would overflow.
	var value int64
	if bytes <= math.MaxInt64/1000 {
		value = bytes * 1000 / total
	} else {
		value = int64(math.Floor(float64(bytes) / float64(total) * 1000))
	}

	switch {
	case value < 0:
		return 0
	case value > PermilleDone:
		return PermilleDone
	default:
		return int(value)
	}
}
