// Package status queries a running agent over its unix socket.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"nodeagent/internal/rpc"
)

// Run prints the registration status of the agent listening on socketPath.
func Run(socketPath string) error {
	client, err := rpc.NewClient(socketPath)
	if err != nil {
		return fmt.Errorf("connecting to agent: %w\nIs 'nodeagent daemon' running?", err)
	}
	defer client.Close()

	reply, err := client.Status()
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	render(os.Stdout, reply, time.Now())
	return nil
}

func render(w io.Writer, r *rpc.StatusReply, now time.Time) {
	state := "registered"
	if !r.Fresh {
		state = "expired"
	}
	s := r.Status

	fmt.Fprintf(w, "\n  Node %s (%s)\n\n", r.Node.Name, state)
	row(w, "Docker", r.Node.Docker)
	row(w, "Master", r.Node.Master)
	row(w, "TTL", r.TTL.String())
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", 40))
	row(w, "Cycles", fmt.Sprintf("%d (%d failed, %d in a row)", s.Cycles, s.Failures, s.ConsecutiveFailures))
	row(w, "Last attempt", ago(s.LastAttempt, now))
	row(w, "Last success", ago(s.LastSuccess, now))
	row(w, "Last sends", fmt.Sprintf("%d in %s", s.LastAttempts, s.LastDuration))
	if s.LastError != "" {
		row(w, "Last error", s.LastError)
	}
}

func row(w io.Writer, name, value string) {
	fmt.Fprintf(w, "  %-14s %s\n", name, value)
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Format("15:04:05"), now.Sub(t).Truncate(time.Second))
}
