// Package sysinfo collects host facts for the agent: a one-off identity
// summary logged at startup and the per-cycle resource status.
package sysinfo

import (
	"context"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo describes the machine the agent runs on.
type HostInfo struct {
	Hostname  string
	IPAddress string
	OSName    string
	Kernel    string
	Arch      string
	CPUModel  string
	CPUCores  int
	MemoryGB  float64
}

// CollectHost gathers what it can; missing facts are left empty.
func CollectHost(ctx context.Context) HostInfo {
	hostname, _ := os.Hostname()
	osName, kernel := osInfo(ctx)

	info := HostInfo{
		Hostname:  hostname,
		IPAddress: primaryIP(),
		OSName:    osName,
		Kernel:    kernel,
		Arch:      runtime.GOARCH,
		CPUCores:  runtime.NumCPU(),
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryGB = float64(vm.Total) / (1 << 30)
	}
	return info
}

// primaryIP returns the first IPv4 address of an up, non-loopback interface.
func primaryIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return ""
}

func osInfo(ctx context.Context) (string, string) {
	var osName, kernel string

	hostInfo, err := host.InfoWithContext(ctx)
	if err == nil {
		osName = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			osName += " " + hostInfo.PlatformVersion
		}
		kernel = hostInfo.KernelVersion
	} else {
		osName = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile("/etc/os-release"); err == nil {
			if pretty := prettyName(string(data)); pretty != "" {
				osName = pretty
			}
		}
	}
	return osName, kernel
}

// prettyName extracts PRETTY_NAME from os-release content.
func prettyName(osRelease string) string {
	for _, line := range strings.Split(osRelease, "\n") {
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(v, "\"")
		}
	}
	return ""
}
