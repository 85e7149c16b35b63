// Package install registers nodeagent as a systemd service.
package install

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"nodeagent/pkg/config"
)

const serviceName = "nodeagent.service"

const unitTemplate = `[Unit]
Description=nodeagent: registers this docker node with the cluster manager
After=network.target docker.service

[Service]
Type=simple
ExecStart=%s daemon
Restart=on-failure

[Install]
WantedBy=multi-user.target
`

// Installer copies the binary, writes the unit and sample config, then
// enables the service.
type Installer struct {
	BinPath    string
	UnitPath   string
	ConfigPath string
	// Executable locates the running binary.
	Executable func() (string, error)
	// Command runs an external command, normally systemctl.
	Command func(name string, args ...string) error
	Out     io.Writer
}

// New returns an Installer for the standard system locations.
func New() *Installer {
	return &Installer{
		BinPath:    "/usr/local/bin/nodeagent",
		UnitPath:   "/etc/systemd/system/" + serviceName,
		ConfigPath: config.SystemPath,
		Executable: os.Executable,
		Command:    runCommand,
		Out:        os.Stdout,
	}
}

// Run installs with the standard locations.
func Run() error {
	return New().Install()
}

// Install performs the installation steps in order and stops at the
// first failure.
func (in *Installer) Install() error {
	if err := in.copyBinary(); err != nil {
		return err
	}

	unit := fmt.Sprintf(unitTemplate, in.BinPath)
	if err := os.WriteFile(in.UnitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("writing unit %s: %w", in.UnitPath, err)
	}
	fmt.Fprintf(in.Out, "Unit %s written to %s\n", serviceName, in.UnitPath)

	if err := in.writeSampleConfig(); err != nil {
		return err
	}

	for _, args := range [][]string{
		{"--system", "daemon-reload"},
		{"--system", "enable", serviceName},
		{"--system", "start", serviceName},
	} {
		if err := in.Command("systemctl", args...); err != nil {
			return fmt.Errorf("systemctl %s: %w", args[1], err)
		}
	}
	fmt.Fprintln(in.Out, "Done")
	return nil
}

func (in *Installer) copyBinary() error {
	src, err := in.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	if sameFile(src, in.BinPath) {
		return nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(in.BinPath), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(in.BinPath), err)
	}
	// Write next to the target and rename so a running copy is not
	// truncated in place.
	tmp := in.BinPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0755); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, in.BinPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing %s: %w", in.BinPath, err)
	}
	fmt.Fprintf(in.Out, "Copied %s to %s\n", src, in.BinPath)
	return nil
}

func (in *Installer) writeSampleConfig() error {
	_, err := os.Stat(in.ConfigPath)
	if err == nil {
		fmt.Fprintf(in.Out, "Keeping existing config %s\n", in.ConfigPath)
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config %s: %w", in.ConfigPath, err)
	}
	if err := os.WriteFile(in.ConfigPath, []byte(config.CommentedSample()), 0644); err != nil {
		return fmt.Errorf("writing config %s: %w", in.ConfigPath, err)
	}
	fmt.Fprintf(in.Out, "Sample config written to %s, edit it before the agent can register\n", in.ConfigPath)
	return nil
}

func sameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
