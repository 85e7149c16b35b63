// Package edit opens the nodeagent config in the user's editor.
package edit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"nodeagent/pkg/config"
)

// Run opens path in $EDITOR, creating it from the sample config first.
func Run(path string) error {
	if err := ensureConfig(path); err != nil {
		return err
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func ensureConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	fmt.Printf("Creating new config file at %s...\n", path)
	if err := os.WriteFile(path, []byte(config.SampleConfig), 0644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

func findEditor() (string, error) {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
}
