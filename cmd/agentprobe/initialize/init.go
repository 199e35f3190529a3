// Package initcmder provides the init command that prepares the data
// directory and the local certificate authority.
package initcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentprobe/agentprobe/pkg/cert"
	"github.com/agentprobe/agentprobe/pkg/config"
	"github.com/agentprobe/agentprobe/pkg/logger"
)

const initLongDesc string = `Initialize the AgentProbe data directory.

Creates the .agentprobe/ directory (in the current directory when run with
--data-dir ., otherwise under the home directory), and generates the CA
certificate the proxy uses to intercept HTTPS traffic.

Follow up with "agentprobe trust" to install the CA system-wide, or point
individual tools at it via "agentprobe env".

Examples:
  agentprobe init
  agentprobe init --data-dir ./.agentprobe`

const initShortDesc string = "Initialize the data directory and local CA"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataDir, err := cmd.Flags().GetString("data-dir")
			if err != nil {
				return fmt.Errorf("could not get data-dir flag: %v", err)
			}
			return runInit(dataDir)
		},
	}

	return cmd
}

func runInit(dataDir string) error {
	log := logger.New(logger.WithPretty(true))

	cfg, err := config.Load(dataDir)
	if err != nil {
		return err
	}

	created, err := cert.EnsureCA(cfg.CACertPath(), cfg.CAKeyPath())
	if err != nil {
		return fmt.Errorf("generating CA: %w", err)
	}

	log.Info("data directory ready", "path", cfg.Storage.DataDir)
	if created {
		log.Info("generated CA certificate", "cert", cfg.CACertPath())
	} else {
		log.Info("CA certificate already present", "cert", cfg.CACertPath())
	}
	return nil
}
