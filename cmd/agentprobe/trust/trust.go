// Package trustcmder provides the trust command that installs the local CA
// into the system trust store.
package trustcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentprobe/agentprobe/pkg/cert"
	"github.com/agentprobe/agentprobe/pkg/config"
	"github.com/agentprobe/agentprobe/pkg/logger"
)

const trustLongDesc string = `Install the AgentProbe CA into the system trust store.

On Linux the certificate is copied to /usr/local/share/ca-certificates and
update-ca-certificates is run; on macOS it is added to the system keychain.
Both usually require sudo.

Tools that keep their own trust bundle (Node, Python requests) are covered
by the variables printed by "agentprobe env" instead.`

const trustShortDesc string = "Install the local CA into the system trust store"

func NewTrustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: trustShortDesc,
		Long:  trustLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataDir, err := cmd.Flags().GetString("data-dir")
			if err != nil {
				return fmt.Errorf("could not get data-dir flag: %v", err)
			}
			return runTrust(dataDir)
		},
	}

	return cmd
}

func runTrust(dataDir string) error {
	log := logger.New(logger.WithPretty(true))

	cfg, err := config.Load(dataDir)
	if err != nil {
		return err
	}

	if err := cert.InstallCA(cfg.CACertPath()); err != nil {
		return err
	}

	log.Info("CA installed into system trust store", "cert", cfg.CACertPath())
	return nil
}
