package progress

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateKnownTotal(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		elapsed  time.Duration
		total    int64
		permille int
		eta      string
		mbps     float64
	}{
		{"start", 0, 0, 1000, 0, ETAUnknown, 0},
		{"half", 512 * 1024, time.Second, 1024 * 1024, 500, "00:01", 0.5},
		{"floor", 999, time.Second, 1000, 999, "00:00", 999.0 / bytesPerMB},
		{"complete", 4096, 2 * time.Second, 4096, 1000, "00:00", 2048.0 / bytesPerMB},
		{"overshoot clamps", 5000, time.Second, 4096, 1000, "00:00", 5000.0 / bytesPerMB},
		{"long eta", 1 * bytesPerMB, 8 * time.Second, 601 * bytesPerMB, 1, "80:00", 0.125},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Estimate(tt.bytes, tt.elapsed, tt.total)
			assert.Equal(t, tt.permille, r.Permille)
			assert.Equal(t, tt.eta, r.ETA)
			assert.InDelta(t, tt.mbps, r.ThroughputMBps, 1e-9)
		})
	}
}

func TestEstimatePermilleFormulaHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		total := rng.Int63n(8<<30) + 1
		b := rng.Int63n(total + 1)

		r := Estimate(b, time.Duration(rng.Int63n(int64(time.Hour))), total)

		assert.Equal(t, int(b*1000/total), r.Permille, "b=%d total=%d", b, total)
		assert.GreaterOrEqual(t, r.Permille, 0)
		assert.LessOrEqual(t, r.Permille, 1000)
	}
}

func TestEstimateUnknownTotal(t *testing.T) {
	for _, b := range []int64{0, 1, 8192, 3 * bytesPerMB / 2, 1 << 40} {
		r := Estimate(b, time.Second, 0)
		assert.Equal(t, PermilleUnknown, r.Permille)
		assert.False(t, r.Known())
	}

	r := Estimate(3*bytesPerMB/2, 0, 0)
	assert.Equal(t, "1.5 MB", r.ETA)
	assert.Zero(t, r.ThroughputMBps)
}

func TestReportString(t *testing.T) {
	assert.Equal(t, "50.0% - 0.5 MB/s - 00:01", Estimate(512*1024, time.Second, 1024*1024).String())
	assert.Equal(t, "-- - 1.0 MB/s - 1.0 MB", Estimate(bytesPerMB, time.Second, 0).String())
	assert.Equal(t, "100.0% - 0.0 MB/s - 00:00", Final().String())
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "00:00", FormatETA(-time.Second))
	assert.Equal(t, "01:05", FormatETA(65*time.Second))
	assert.Equal(t, "61:01", FormatETA(time.Hour+61*time.Second))
	assert.Equal(t, "999:59", FormatETA(48*time.Hour))
}

func TestEstimateStalledThroughputIsClamped(t *testing.T) {
	r := Estimate(1, 1000*time.Second, 4<<30)
	assert.Equal(t, 0, r.Permille)
	assert.Equal(t, "999:59", r.ETA)
	assert.Equal(t, "0.0% - 0.0 MB/s - 999:59", r.String())
}
