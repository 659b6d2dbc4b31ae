package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Config holds gateway configuration
type Config struct {
	Port             string
	AllowedOrigins   []string
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Port:             "8081",
		AllowedOrigins:   []string{"*"},
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// Service ties the websocket connections, the display surface and the HTTP routes together
type Service struct {
	config      Config
	connections *ConnectionManager
	surface     *Surface
}

// NewService creates a gateway. Surface() is ready to hand to the controller
// before any client connects.
func NewService(config Config) *Service {
	s := &Service{config: config}
	s.surface = NewSurface(func(e *Event) { s.connections.Broadcast(e) })
	s.connections = NewConnectionManager(config.ConnectionConfig, s.surface)
	return s
}

// Surface returns the controller.Display and controller.Prompter implementation.
func (s *Service) Surface() *Surface {
	return s.surface
}

// Start runs the broadcast loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting mob gateway")
	s.connections.Start(ctx)
	return nil
}

// Handler builds the HTTP routes for mob, wrapped in CORS. conn may be nil
// when there is no transport to report on.
func (s *Service) Handler(mob MobController, conn ConnStatus) http.Handler {
	s.surface.SetStarter(mob)

	mux := http.NewServeMux()
	NewStateHandler(mob).RegisterStateRoutes(mux)
	NewWebSocketHandler(s.connections).RegisterRoutes(mux)

	mux.HandleFunc("/health", NewHealthChecker(mob, conn, s.connections).HandleHealth)
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"mobster","connections":%d}`, s.connections.Count())
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// NewServer serves handler over HTTP/1.1 and cleartext HTTP/2.
func NewServer(config Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:        fmt.Sprintf(":%s", config.Port),
		Handler:     h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}
