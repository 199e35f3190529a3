// Package agentprobecmder
package agentprobecmder

import (
	envcmder "github.com/agentprobe/agentprobe/cmd/agentprobe/env"
	initcmder "github.com/agentprobe/agentprobe/cmd/agentprobe/initialize"
	startcmder "github.com/agentprobe/agentprobe/cmd/agentprobe/start"
	trustcmder "github.com/agentprobe/agentprobe/cmd/agentprobe/trust"
	versioncmder "github.com/agentprobe/agentprobe/cmd/version"
	"github.com/spf13/cobra"
)

const agentprobeLongDesc string = `AgentProbe captures the API traffic of your coding agents.

Point an agent's HTTP(S) traffic at the local proxy and AgentProbe records
every LLM and MCP exchange: requests, streamed responses, timings, and
sessions, queryable over a local HTTP API and live over WebSocket.

Typical workflow:
  agentprobe init      Create the data directory and local CA
  agentprobe trust     Install the CA into the system trust store
  agentprobe env       Print the exports that route an agent through the proxy
  agentprobe start     Run the proxy and the web API`

const agentprobeShortDesc string = "AgentProbe - agent traffic capture"

func NewAgentprobeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentprobe",
		Short: agentprobeShortDesc,
		Long:  agentprobeLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("data-dir", "", "Data directory (default: ./.agentprobe or ~/.agentprobe)")

	// Add subcommands
	cmd.AddCommand(startcmder.NewStartCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(trustcmder.NewTrustCmd())
	cmd.AddCommand(envcmder.NewEnvCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
