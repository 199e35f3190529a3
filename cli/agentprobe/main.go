package main

import (
	"os"

	agentprobecmder "github.com/agentprobe/agentprobe/cmd/agentprobe"
)

func main() {
	cmd := agentprobecmder.NewAgentprobeCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
