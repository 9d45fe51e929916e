package sysreq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"psadiag/internal/logger"
)

type fakeCapacity struct {
	ram     uint64
	disk    uint64
	ramErr  error
	diskErr error
	path    string
}

func (p *fakeCapacity) TotalMemory(context.Context) (uint64, error) { return p.ram, p.ramErr }

func (p *fakeCapacity) FreeDisk(_ context.Context, path string) (uint64, error) {
	p.path = path
	return p.disk, p.diskErr
}

func TestCheck(t *testing.T) {
	readErr := errors.New("read failed")

	tests := []struct {
		name     string
		capacity *fakeCapacity
		ok       bool
		problems int
	}{
		{"enough of both", &fakeCapacity{ram: 8 * gib, disk: 100 * gib}, true, 0},
		{"exact minimum", &fakeCapacity{ram: 3 * gib, disk: 15 * gib}, true, 0},
		{"low memory", &fakeCapacity{ram: 2 * gib, disk: 100 * gib}, false, 1},
		{"low disk", &fakeCapacity{ram: 8 * gib, disk: 10 * gib}, false, 1},
		{"both low", &fakeCapacity{ram: 1 * gib, disk: 1 * gib}, false, 2},
		{"reads fail", &fakeCapacity{ramErr: readErr, diskErr: readErr}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := logger.NewMockLogger()
			report := Check(context.Background(), tt.capacity, DefaultRequirements(), log)

			assert.Equal(t, tt.ok, report.OK())
			assert.Len(t, report.Problems(), tt.problems)
			assert.Equal(t, `C:\`, tt.capacity.path)
		})
	}
}

func TestReadFailureIsUnknownButPasses(t *testing.T) {
	log := logger.NewMockLogger()
	report := Check(context.Background(), &fakeCapacity{ramErr: errors.New("denied"), disk: 20 * gib}, DefaultRequirements(), log)

	assert.True(t, report.OK())
	assert.False(t, report.Items[0].Known)
	assert.Contains(t, report.Items[0].String(), "unknown")
	assert.True(t, log.HasEntry(logger.LevelWarn, "memory query failed"))
}

func TestItemString(t *testing.T) {
	item := Item{Name: "Memory", Required: 3 * gib, Actual: 2 * gib, Known: true}
	assert.Equal(t, "Memory: 2.0 GiB of 3.0 GiB required, insufficient", item.String())
}
