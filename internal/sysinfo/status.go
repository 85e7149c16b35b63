package sysinfo

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Status is the resource snapshot sent with every registration.
type Status struct {
	CPULoad float64                `json:"cpuLoad"`
	Memory  Memory                 `json:"memory"`
	Disks   map[string]DiskUsage   `json:"disks"`
	Net     map[string]NetCounters `json:"net"`
}

// Memory is in bytes.
type Memory struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Used      float64 `json:"used"`
}

// DiskUsage is in bytes, per mount point.
type DiskUsage struct {
	Total float64 `json:"total"`
	Used  float64 `json:"used"`
}

// NetCounters are cumulative byte counters, per interface.
type NetCounters struct {
	BytesIn  float64 `json:"bytesIn"`
	BytesOut float64 `json:"bytesOut"`
}

// EmptyStatus is what the agent reports when metrics are unavailable.
func EmptyStatus() Status {
	return Status{
		Disks: map[string]DiskUsage{},
		Net:   map[string]NetCounters{},
	}
}

// Source reads raw host metrics.
type Source interface {
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (Memory, error)
	Disks(ctx context.Context) (map[string]DiskUsage, error)
	Network(ctx context.Context) (map[string]NetCounters, error)
}

// Probe collects a Status on a best-effort basis. Whether the metrics
// source works is checked once, when the probe is created.
type Probe struct {
	src       Source
	available bool
	cause     error
	log       zerolog.Logger
}

// NewProbe checks src and returns a probe. A nil src means the platform
// has no metrics facility.
func NewProbe(src Source, log zerolog.Logger) *Probe {
	p := &Probe{src: src, log: log}
	if src == nil {
		p.cause = fmt.Errorf("no metrics source")
		return p
	}
	if _, err := src.Memory(context.Background()); err != nil {
		p.cause = err
		return p
	}
	p.available = true
	return p
}

// NewHostProbe returns a probe backed by gopsutil.
func NewHostProbe(log zerolog.Logger) *Probe {
	return NewProbe(HostSource{}, log)
}

// Available reports whether the metrics source passed its check.
func (p *Probe) Available() bool {
	return p.available
}

// Collect never fails. When the source is unavailable it logs a warning and
// returns EmptyStatus; individual failing metrics are left zero.
func (p *Probe) Collect(ctx context.Context) Status {
	status := EmptyStatus()
	if !p.available {
		p.log.Warn().Err(p.cause).Msg("System status will be empty because host metrics are unavailable")
		return status
	}

	if load, err := p.src.CPUPercent(ctx); err == nil {
		status.CPULoad = load
	} else {
		p.log.Debug().Err(err).Msg("CPU load unavailable")
	}
	if m, err := p.src.Memory(ctx); err == nil {
		status.Memory = m
	} else {
		p.log.Debug().Err(err).Msg("Memory usage unavailable")
	}
	if disks, err := p.src.Disks(ctx); err == nil {
		status.Disks = disks
	} else {
		p.log.Debug().Err(err).Msg("Disk usage unavailable")
	}
	if counters, err := p.src.Network(ctx); err == nil {
		status.Net = counters
	} else {
		p.log.Debug().Err(err).Msg("Network counters unavailable")
	}
	return status
}

// HostSource reads metrics through gopsutil.
type HostSource struct{}

// CPUPercent is the total CPU load since the previous call, 0-100.
func (HostSource) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return pct[0], nil
}

func (HostSource) Memory(ctx context.Context) (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, err
	}
	return Memory{
		Total:     float64(vm.Total),
		Available: float64(vm.Available),
		Used:      float64(vm.Used),
	}, nil
}

// Disks skips mount points whose usage cannot be read.
func (HostSource) Disks(ctx context.Context) (map[string]DiskUsage, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	disks := make(map[string]DiskUsage, len(partitions))
	for _, part := range partitions {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			continue
		}
		disks[part.Mountpoint] = DiskUsage{Total: float64(usage.Total), Used: float64(usage.Used)}
	}
	return disks, nil
}

// Network excludes loopback interfaces.
func (HostSource) Network(ctx context.Context) (map[string]NetCounters, error) {
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	counters := make(map[string]NetCounters, len(stats))
	for _, s := range stats {
		if isLoopback(s.Name) {
			continue
		}
		counters[s.Name] = NetCounters{BytesIn: float64(s.BytesRecv), BytesOut: float64(s.BytesSent)}
	}
	return counters, nil
}

func isLoopback(name string) bool {
	if name == "lo" {
		return true
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return false
	}
	return iface.Flags&net.FlagLoopback != 0
}
