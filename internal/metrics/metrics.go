// Package metrics samples host CPU, memory and disk statistics for broadcast.
package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Record is one point-in-time sample, serialized as a JSON text frame.
// On sampling failure all numerics are zero and Error carries the cause.
type Record struct {
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"memory"`
	Disk      float64 `json:"disk"`
	DiskRead  float64 `json:"disk_read"`
	DiskWrite float64 `json:"disk_write"`
	Timestamp string  `json:"timestamp"`
	Error     string  `json:"error,omitempty"`
}

// Sampler collects host metrics. It keeps the previous cumulative disk
// I/O counters to derive read/write byte rates between samples, so it
// must not be shared between goroutines: only the broadcast loop calls
// Sample.
type Sampler struct {
	interval  time.Duration
	diskPath  string
	prevRead  uint64
	prevWrite uint64
	primed    bool
}

// NewSampler creates a Sampler deriving I/O rates over the given nominal
// interval. The first cpu.Percent call primes gopsutil's internal delta
// state, and the current I/O counters become the baseline, so the first
// real sample already yields meaningful values.
func NewSampler(interval time.Duration) *Sampler {
	s := &Sampler{interval: interval, diskPath: "/"}

	cpu.Percent(0, false)
	if read, write, err := ioCounters(); err == nil {
		s.prevRead, s.prevWrite = read, write
		s.primed = true
	}

	return s
}

// Sample collects one Record. It never fails: on any collector error it
// returns a zero-valued record carrying the error string, and the
// broadcast proceeds with the degraded record.
func (s *Sampler) Sample() Record {
	now := time.Now().Format(time.RFC3339Nano)

	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return errorRecord(now, fmt.Errorf("cpu: %w", err))
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return errorRecord(now, fmt.Errorf("memory: %w", err))
	}

	usage, err := disk.Usage(s.diskPath)
	if err != nil {
		return errorRecord(now, fmt.Errorf("disk usage: %w", err))
	}

	read, write, err := ioCounters()
	if err != nil {
		return errorRecord(now, fmt.Errorf("disk io: %w", err))
	}

	var readRate, writeRate float64
	if s.primed {
		// Byte deltas over the nominal interval, not measured elapsed
		// time. Scheduling jitter skews the rate slightly; the counter
		// baseline still advances every sample, so nothing is lost.
		readRate = float64(read-s.prevRead) / s.interval.Seconds()
		writeRate = float64(write-s.prevWrite) / s.interval.Seconds()
	}
	s.prevRead, s.prevWrite = read, write
	s.primed = true

	return Record{
		CPU:       Round2(cpuPct),
		Memory:    Round2(vm.UsedPercent),
		Disk:      Round2(usage.UsedPercent),
		DiskRead:  Round2(readRate),
		DiskWrite: Round2(writeRate),
		Timestamp: now,
	}
}

// ioCounters sums cumulative read/write bytes across all block devices.
func ioCounters() (read, write uint64, err error) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0, err
	}
	for _, c := range counters {
		read += c.ReadBytes
		write += c.WriteBytes
	}
	return read, write, nil
}

func errorRecord(timestamp string, err error) Record {
	return Record{
		Timestamp: timestamp,
		Error:     err.Error(),
	}
}

// Round2 rounds a value to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
