package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/swarm/pkg/buffer"
)

const (
	shownLogs      = 10
	shownArtifacts = 3
	payloadPreview = 120
)

// printBuffer renders a session buffer the way the watch dashboard does
func printBuffer(w io.Writer, buf buffer.Buffer) {
	fmt.Fprintf(w, "Status: %s\n", strings.ToUpper(string(buf.Status)))

	printArtifacts(w, buf.Artifacts, shownArtifacts)

	fmt.Fprintln(w, "Recent logs:")
	for _, line := range tail(buf.Logs, shownLogs) {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

// printArtifacts lists the last n artifacts with a payload preview
func printArtifacts(w io.Writer, artifacts []buffer.Artifact, n int) {
	fmt.Fprintf(w, "Artifacts (%d):\n", len(artifacts))
	for _, a := range tail(artifacts, n) {
		fmt.Fprintf(w, "  - %s [%s] from %s\n", a.Title, a.Kind, a.Origin)
		fmt.Fprintf(w, "    %s\n", preview(string(a.Payload), payloadPreview))
	}
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
