package providers

import (
	"context"
	"encoding/json"

	"github.com/harun/swarm/pkg/buffer"
	"github.com/harun/swarm/pkg/capability"
)

// SwarmReaderName is the registered name of the buffer reader provider
const SwarmReaderName = "swarm_reader"

const (
	readerRecentLogs      = 10
	readerLatestArtifacts = 3
)

// BufferReader reads session buffers
type BufferReader interface {
	Get(sessionID string) (buffer.Buffer, bool)
}

type artifactSummary struct {
	Title  string      `json:"title"`
	Kind   buffer.Kind `json:"kind"`
	Origin string      `json:"origin"`
}

type swarmReport struct {
	Status           buffer.Status     `json:"status"`
	Message          string            `json:"message,omitempty"`
	RecentLogs       []string          `json:"recent_logs,omitempty"`
	ArtifactsCount   int               `json:"artifacts_count"`
	ArtifactsSummary []artifactSummary `json:"artifacts_summary,omitempty"`
	LatestArtifacts  []buffer.Artifact `json:"latest_artifacts,omitempty"`
}

// SwarmReader returns a provider reporting the state of the caller's session
func SwarmReader(buffers BufferReader) capability.Provider {
	return capability.Func(capability.Descriptor{
		Name:        SwarmReaderName,
		Description: "Retrieve the latest status, logs, and gathered artifacts of the background swarm for this session.",
		InputSchema: capability.ObjectSchema(
			capability.Param{Name: "session_id", Type: "string", Description: "Session to read; defaults to the current session"},
		),
	}, func(ctx context.Context, args map[string]interface{}, sc capability.SessionContext) (string, error) {
		sessionID, _ := args["session_id"].(string)
		if sessionID == "" {
			sessionID = sc.SessionID
		}

		out, err := json.Marshal(readSwarm(buffers, sessionID))
		if err != nil {
			return "", err
		}
		return string(out), nil
	})
}

func readSwarm(buffers BufferReader, sessionID string) swarmReport {
	buf, ok := buffers.Get(sessionID)
	if !ok {
		return swarmReport{
			Status:  "not_started",
			Message: "Swarm has not been initialized for this session.",
		}
	}

	report := swarmReport{
		Status:           buf.Status,
		RecentLogs:       tail(buf.Logs, readerRecentLogs),
		ArtifactsCount:   len(buf.Artifacts),
		ArtifactsSummary: make([]artifactSummary, 0, len(buf.Artifacts)),
		LatestArtifacts:  tail(buf.Artifacts, readerLatestArtifacts),
	}
	for _, a := range buf.Artifacts {
		report.ArtifactsSummary = append(report.ArtifactsSummary, artifactSummary{
			Title:  a.Title,
			Kind:   a.Kind,
			Origin: a.Origin,
		})
	}
	return report
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
