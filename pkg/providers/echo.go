// Package providers holds the concrete tools a swarm loop can call.
package providers

import (
	"context"
	"encoding/json"

	"github.com/harun/swarm/pkg/capability"
)

// EchoName is the registered name of the echo provider
const EchoName = "echo"

// Echo returns a provider that answers with its payload wrapped as JSON
func Echo() capability.Provider {
	return capability.Func(capability.Descriptor{
		Name:        EchoName,
		Description: "Return the given payload unchanged. Useful to check that tool calls work.",
		InputSchema: capability.ObjectSchema(
			capability.Param{Name: "payload", Type: "string", Description: "Text to echo back"},
		),
	}, func(ctx context.Context, args map[string]interface{}, sc capability.SessionContext) (string, error) {
		payload, _ := args["payload"].(string)
		if payload == "" {
			return `{"ok":true}`, nil
		}
		out, err := json.Marshal(map[string]interface{}{"ok": true, "payload": payload})
		if err != nil {
			return "", err
		}
		return string(out), nil
	})
}
