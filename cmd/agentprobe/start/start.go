// Package startcmder provides the start command that runs the capture proxy
// and the web API together.
package startcmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/api"
	"github.com/agentprobe/agentprobe/pkg/cert"
	"github.com/agentprobe/agentprobe/pkg/config"
	"github.com/agentprobe/agentprobe/pkg/hub"
	"github.com/agentprobe/agentprobe/pkg/logger"
	"github.com/agentprobe/agentprobe/pkg/session"
	"github.com/agentprobe/agentprobe/pkg/storage/sqlite"
	"github.com/agentprobe/agentprobe/proxy"
	"github.com/agentprobe/agentprobe/proxy/mitm"
	"github.com/agentprobe/agentprobe/proxy/worker"
)

type StartCommander struct {
	proxyListen string
	webListen   string
	dataDir     string
	debug       bool
	logger      *zap.Logger
}

const startLongDesc string = `Run the capture proxy and the web API.

The proxy intercepts HTTP(S) traffic on its listen address, re-signing TLS
with the local CA, and records every flow. The web API serves the captured
requests and a WebSocket feed of live activity.

Run "agentprobe init" once beforehand to create the CA.`

const startShortDesc string = "Run the proxy and the web API"

func NewStartCmd() *cobra.Command {
	cmder := &StartCommander{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: startShortDesc,
		Long:  startLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.dataDir, err = cmd.Flags().GetString("data-dir")
			if err != nil {
				return fmt.Errorf("could not get data-dir flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.proxyListen, "proxy-listen", "p", "", "Address for the proxy to listen on")
	cmd.Flags().StringVarP(&cmder.webListen, "web-listen", "w", "", "Address for the web API to listen on")

	return cmd
}

func (c *StartCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfg, err := config.Load(c.dataDir)
	if err != nil {
		return err
	}
	if c.proxyListen != "" {
		cfg.Proxy.Listen = c.proxyListen
	}
	if c.webListen != "" {
		cfg.Web.Listen = c.webListen
	}

	// Operator output goes pretty to stdout and, when the log file opens,
	// as JSON to the data directory too.
	cliLog := logger.New(logger.WithPretty(true), logger.WithDebug(c.debug))
	if logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		defer logFile.Close()
		cliLog = logger.Multi(
			cliLog,
			logger.New(logger.WithJSON(true), logger.WithDebug(c.debug), logger.WithWriter(logFile)),
		)
	} else {
		cliLog.Warn("log file unavailable", "path", cfg.LogPath(), "error", err)
	}

	if _, err := cert.EnsureCA(cfg.CACertPath(), cfg.CAKeyPath()); err != nil {
		return fmt.Errorf("preparing CA: %w", err)
	}
	ca, err := cert.Load(cfg.CACertPath(), cfg.CAKeyPath())
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	broadcastHub := hub.New(c.logger)
	pool := worker.NewPool(&worker.Config{Logger: c.logger})
	addon := proxy.NewAddon(store, broadcastHub, pool, cfg.Capture.MaxBodySize, c.logger)

	proxyServer, err := mitm.NewServer(addon, ca, c.logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}

	apiServer := api.NewServer(api.Config{ListenAddr: cfg.Web.Listen}, store, broadcastHub, c.logger)

	cliLog.Info("starting agentprobe",
		"proxy", cfg.Proxy.Listen,
		"web", cfg.Web.Listen,
		"db", cfg.DBPath(),
	)

	errChan := make(chan error, 2)
	go func() {
		if err := proxyServer.ListenAndServe(cfg.Proxy.Listen); err != nil {
			errChan <- fmt.Errorf("proxy error: %w", err)
		}
	}()
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("api error: %w", err)
		}
	}()

	// Idle sessions get dropped on a timer so the tracker stays bounded.
	expireDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(session.Window / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if dropped := addon.ExpireSessions(time.Now()); dropped > 0 {
					c.logger.Debug("expired sessions", zap.Int("count", dropped))
				}
			case <-expireDone:
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		close(expireDone)
		return err
	case sig := <-sigChan:
		cliLog.Info("shutting down", "signal", sig.String())
	}
	close(expireDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("proxy shutdown", zap.Error(err))
	}
	if err := apiServer.Shutdown(); err != nil {
		c.logger.Warn("api shutdown", zap.Error(err))
	}

	// Drain queued persistence before the store closes.
	pool.Close()

	return nil
}
