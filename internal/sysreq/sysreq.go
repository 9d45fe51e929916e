// Package sysreq checks the host against the package's minimum requirements.
package sysreq

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"psadiag/internal/logger"
)

const gib = 1 << 30

// Requirements are the minimums checked before a download.
type Requirements struct {
	MinRAMGB      float64
	MinFreeDiskGB float64
	DiskPath      string
}

// DefaultRequirements match what Diagbox needs to install and run.
func DefaultRequirements() Requirements {
	return Requirements{MinRAMGB: 3, MinFreeDiskGB: 15, DiskPath: `C:\`}
}

// Capacity reads host capacity.
type Capacity interface {
	TotalMemory(ctx context.Context) (uint64, error)
	FreeDisk(ctx context.Context, path string) (uint64, error)
}

// HostCapacity reads the local machine through gopsutil.
type HostCapacity struct{}

func (HostCapacity) TotalMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

func (HostCapacity) FreeDisk(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Item is the outcome of one requirement.
type Item struct {
	Name     string
	Required uint64
	Actual   uint64
	// Known is false when the read failed; such items pass.
	Known bool
	OK    bool
}

func (i Item) String() string {
	if !i.Known {
		return fmt.Sprintf("%s: unknown (required %s)", i.Name, humanize.IBytes(i.Required))
	}
	status := "OK"
	if !i.OK {
		status = "insufficient"
	}
	return fmt.Sprintf("%s: %s of %s required, %s", i.Name, humanize.IBytes(i.Actual), humanize.IBytes(i.Required), status)
}

// Report aggregates every checked requirement.
type Report struct {
	Items []Item
}

// OK reports whether every requirement passed.
func (r Report) OK() bool {
	for _, item := range r.Items {
		if !item.OK {
			return false
		}
	}
	return true
}

// Problems lists the failed requirements.
func (r Report) Problems() []string {
	var problems []string
	for _, item := range r.Items {
		if !item.OK {
			problems = append(problems, item.String())
		}
	}
	return problems
}

// Check reads memory and free disk space. A read error is logged and the
// requirement treated as met.
func Check(ctx context.Context, capacity Capacity, req Requirements, log logger.Logger) Report {
	if capacity == nil {
		capacity = HostCapacity{}
	}

	ram := Item{Name: "Memory", Required: toBytes(req.MinRAMGB)}
	if total, err := capacity.TotalMemory(ctx); err != nil {
		log.WarnContext(ctx, "memory query failed", logger.Error(err))
		ram.OK = true
	} else {
		ram.Known, ram.Actual = true, total
		ram.OK = total >= ram.Required
	}

	space := Item{Name: "Free disk " + req.DiskPath, Required: toBytes(req.MinFreeDiskGB)}
	if free, err := capacity.FreeDisk(ctx, req.DiskPath); err != nil {
		log.WarnContext(ctx, "disk query failed", logger.String("path", req.DiskPath), logger.Error(err))
		space.OK = true
	} else {
		space.Known, space.Actual = true, free
		space.OK = free >= space.Required
	}

	report := Report{Items: []Item{ram, space}}
	log.InfoContext(ctx, "system requirements checked",
		logger.Bool("ok", report.OK()),
		logger.Any("problems", report.Problems()),
	)
	return report
}

func toBytes(gb float64) uint64 {
	if gb <= 0 {
		return 0
	}
	return uint64(gb * gib)
}
