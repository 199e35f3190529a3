// Package api provides the HTTP and WebSocket server for querying captured
// traffic and subscribing to live broadcasts.
package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/pkg/hub"
	"github.com/agentprobe/agentprobe/pkg/storage"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "0.0.0.0:9091").
	ListenAddr string
}

// Server serves the REST endpoints over the store and bridges WebSocket
// clients onto the broadcast hub.
type Server struct {
	config Config
	store  storage.Store
	hub    *hub.Hub
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates the API server. The store and hub are injected so they
// can be shared with the proxy.
func NewServer(config Config, store storage.Store, h *hub.Hub, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		store:  store,
		hub:    h,
		logger: logger,
		app:    app,
	}

	api := app.Group("/api")
	api.Get("/requests", s.handleListRequests)
	api.Delete("/requests", s.handleClearRequests)
	api.Get("/requests/:id", s.handleGetRequest)
	api.Get("/requests/:id/sse-events", s.handleGetSSEEvents)
	api.Get("/requests/:id/parsed", s.handleGetParsed)
	api.Get("/stats", s.handleStats)
	api.Get("/export/har", s.handleExportHAR)
	api.Get("/export/curl/:id", s.handleExportCurl)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWebSocket))

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", zap.String("listen", s.config.ListenAddr))
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
