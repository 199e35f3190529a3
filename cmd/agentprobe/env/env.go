// Package envcmder provides the env command that prints the exports needed
// to route a client through the proxy.
package envcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentprobe/agentprobe/pkg/cert"
	"github.com/agentprobe/agentprobe/pkg/config"
)

const envLongDesc string = `Print shell exports that route a process through the proxy.

The output sets the proxy variables (upper and lower case) and points the
common per-tool trust bundles at the local CA. Evaluate it in the shell an
agent will run in:

  eval "$(agentprobe env)"`

const envShortDesc string = "Print proxy environment exports"

func NewEnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: envShortDesc,
		Long:  envLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataDir, err := cmd.Flags().GetString("data-dir")
			if err != nil {
				return fmt.Errorf("could not get data-dir flag: %v", err)
			}
			return runEnv(dataDir)
		},
	}

	return cmd
}

func runEnv(dataDir string) error {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return err
	}

	vars := cert.EnvVars(cfg.Proxy.Listen, cfg.CACertPath())
	fmt.Println(cert.FormatEnvExport(vars))
	return nil
}
