// Package metrics logs system and pipeline metrics at a fixed interval.
package metrics

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sample is one snapshot of system metrics
type Sample struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // Can exceed 100% on multi-core machines
	IOWaitPercent     float64
	ProcessRSSGB      float64
	MemoryUsedGB      float64
	MemoryTotalGB     float64
	MemoryPercent     float64
	DiskReadMBps      float64
	DiskWriteMBps     float64
	Timestamp         time.Time
}

// Probe returns pipeline fields logged next to each sample
type Probe func() []zap.Field

// Collector periodically collects and logs metrics
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	lastDiskStats map[string]disk.IOCountersStat
	lastDiskTime  time.Time
	lastCPUTimes  cpu.TimesStat
	hasCPUTimes   bool

	mu     sync.RWMutex
	last   *Sample
	probes []Probe
}

// NewCollector creates a collector. Intervals under a second fall back to 30s.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// AddProbe registers fields to log with every sample.
func (c *Collector) AddProbe(p Probe) {
	c.mu.Lock()
	c.probes = append(c.probes, p)
	c.mu.Unlock()
}

// Start collects until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample initializes the disk and CPU baselines
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Last returns the most recent sample, nil before the first one.
func (c *Collector) Last() *Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	s := c.sample()

	c.mu.Lock()
	c.last = s
	probes := c.probes
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("sys_cpu", round1(s.CPUPercent)),
		zap.Float64("proc_cpu", round1(s.ProcessCPUPercent)),
		zap.Float64("iowait", round1(s.IOWaitPercent)),
		zap.Float64("mem_pct", round1(s.MemoryPercent)),
		zap.String("rss", formatGB(s.ProcessRSSGB)),
		zap.String("mem_used", formatGB(s.MemoryUsedGB)),
		zap.String("disk_r", formatMBps(s.DiskReadMBps)),
		zap.String("disk_w", formatMBps(s.DiskWriteMBps)),
	}
	for _, p := range probes {
		fields = append(fields, p()...)
	}
	c.logger.Info("Metrics", fields...)
}

func (c *Collector) sample() *Sample {
	s := &Sample{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			s.ProcessRSSGB = float64(info.RSS) / (1 << 30)
		}
	}
	s.IOWaitPercent = c.ioWait()

	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
		s.MemoryUsedGB = float64(vmem.Used) / (1 << 30)
		s.MemoryTotalGB = float64(vmem.Total) / (1 << 30)
	}

	s.DiskReadMBps, s.DiskWriteMBps = c.diskRates()
	return s
}

// ioWait returns the share of CPU time spent waiting for I/O since the last call
func (c *Collector) ioWait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	cur := times[0]
	if !c.hasCPUTimes {
		c.lastCPUTimes = cur
		c.hasCPUTimes = true
		return 0
	}

	last := c.lastCPUTimes
	c.lastCPUTimes = cur
	return ioWaitPercent(last, cur)
}

func ioWaitPercent(last, cur cpu.TimesStat) float64 {
	total := (cur.User - last.User) +
		(cur.System - last.System) +
		(cur.Idle - last.Idle) +
		(cur.Iowait - last.Iowait) +
		(cur.Irq - last.Irq) +
		(cur.Softirq - last.Softirq) +
		(cur.Steal - last.Steal)
	if total <= 0 {
		return 0
	}
	return (cur.Iowait - last.Iowait) / total * 100
}

// diskRates returns read and write throughput since the last call
func (c *Collector) diskRates() (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	now := time.Now()

	last, lastTime := c.lastDiskStats, c.lastDiskTime
	c.lastDiskStats, c.lastDiskTime = counters, now
	if last == nil {
		return 0, 0
	}

	elapsed := now.Sub(lastTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var read, write uint64
	for name, cur := range counters {
		prev, ok := last[name]
		if !ok {
			continue
		}
		// Counters may wrap
		if cur.ReadBytes >= prev.ReadBytes {
			read += cur.ReadBytes - prev.ReadBytes
		}
		if cur.WriteBytes >= prev.WriteBytes {
			write += cur.WriteBytes - prev.WriteBytes
		}
	}
	return float64(read) / elapsed / (1 << 20), float64(write) / elapsed / (1 << 20)
}

func formatGB(gb float64) string {
	return strconv.FormatFloat(gb, 'f', 1, 64) + " GB"
}

func formatMBps(mbps float64) string {
	return strconv.FormatFloat(mbps, 'f', 1, 64) + " MB/s"
}

func round1(f float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 1, 64), 64)
	return v
}
