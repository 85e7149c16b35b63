package main

import (
	"testing"

	"nodeagent/pkg/config"
)

type daemonCall struct {
	ran        bool
	configPath string
	flags      config.Agent
}

func runApp(t *testing.T, args ...string) daemonCall {
	t.Helper()
	var got daemonCall
	app := newApp(func(configPath string, flags config.Agent) {
		got = daemonCall{ran: true, configPath: configPath, flags: flags}
	})
	if err := app.Run(append([]string{"nodeagent"}, args...)); err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	if !got.ran {
		t.Fatalf("run %v: daemon action not called", args)
	}
	return got
}

func TestDaemonFlagPlacement(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"default command", []string{"-d", "10.0.0.1:2375", "-m", "10.0.0.2:8762", "-c", "/tmp/a.toml"}},
		{"before daemon", []string{"-d", "10.0.0.1:2375", "-m", "10.0.0.2:8762", "-c", "/tmp/a.toml", "daemon"}},
		{"after daemon", []string{"daemon", "-d", "10.0.0.1:2375", "-m", "10.0.0.2:8762", "-c", "/tmp/a.toml"}},
		{"split around daemon", []string{"-d", "10.0.0.1:2375", "daemon", "-m", "10.0.0.2:8762", "-c", "/tmp/a.toml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runApp(t, tt.args...)
			if got.flags.Docker == nil || *got.flags.Docker != "10.0.0.1:2375" {
				t.Errorf("Docker: got %v, want 10.0.0.1:2375", got.flags.Docker)
			}
			if got.flags.Master == nil || *got.flags.Master != "10.0.0.2:8762" {
				t.Errorf("Master: got %v, want 10.0.0.2:8762", got.flags.Master)
			}
			if got.configPath != "/tmp/a.toml" {
				t.Errorf("config: got %q, want /tmp/a.toml", got.configPath)
			}
		})
	}
}

func TestDaemonFlags_AfterCommandWins(t *testing.T) {
	got := runApp(t, "-t", "5", "daemon", "-t", "9")
	if got.flags.Timeout == nil || *got.flags.Timeout != 9 {
		t.Errorf("Timeout: got %v, want 9", got.flags.Timeout)
	}
}

func TestDaemonFlags_UnsetStayUnset(t *testing.T) {
	got := runApp(t, "daemon", "-a", "10.0.0.1:2375")
	if got.flags.Advertise == nil || *got.flags.Advertise != "10.0.0.1:2375" {
		t.Errorf("Advertise: got %v, want 10.0.0.1:2375", got.flags.Advertise)
	}
	if got.flags.Timeout != nil {
		t.Errorf("Timeout default must not override config layers, got %d", *got.flags.Timeout)
	}
	if got.flags.LogLevel != nil {
		t.Errorf("LogLevel default must not override config layers, got %s", *got.flags.LogLevel)
	}
	if got.flags.Docker != nil || got.configPath != "" {
		t.Errorf("unexpected values: docker=%v config=%q", got.flags.Docker, got.configPath)
	}
}
