// Package api provides the HTTP REST API and observer WebSocket server
// for Sortline Core.
//
// Devices talk to the pull side: they post telemetry and collect their
// queued commands in the same response. Observers (dashboards, mobile
// apps, automation tools) hold WebSocket connections to the event hub
// and receive live topic events plus a catch-up replay on connect.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sortline/sortline-core/internal/classifier"
	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/discovery"
	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
	"github.com/sortline/sortline-core/internal/infrastructure/mqtt"
	"github.com/sortline/sortline-core/internal/infrastructure/tsdb"
	"github.com/sortline/sortline-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// deviceCallTimeout bounds outbound calls to field devices (capture
// proxy and similar control-plane requests).
const deviceCallTimeout = 10 * time.Second

// Scanner runs one discovery sweep over candidate addresses.
type Scanner interface {
	Scan(ctx context.Context, targets []string) discovery.Result
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config          config.APIConfig
	WS              config.WebSocketConfig
	Logger          *logging.Logger
	Registry        *device.Registry
	Queue           *device.Queue
	Sensors         *telemetry.Log[telemetry.SensorReading]
	Classifications *telemetry.Log[telemetry.ClassificationRecord]
	Scanner         Scanner
	Targets         func() ([]string, error)
	Scorer          classifier.Scorer
	MQTT            *mqtt.Client
	TSDB            *tsdb.Client
	ExternalHub     *Hub // If set, the server uses this hub instead of creating its own
	Version         string
}

// Server is the HTTP API server for Sortline Core.
type Server struct {
	cfg             config.APIConfig
	wsCfg           config.WebSocketConfig
	logger          *logging.Logger
	registry        *device.Registry
	queue           *device.Queue
	sensors         *telemetry.Log[telemetry.SensorReading]
	classifications *telemetry.Log[telemetry.ClassificationRecord]
	scanner         Scanner
	targets         func() ([]string, error)
	scorer          classifier.Scorer
	mqtt            *mqtt.Client
	tsdb            *tsdb.Client
	version         string

	deviceClient *http.Client
	server       *http.Server
	hub          *Hub
	externalHub  bool
	startTime    time.Time
	cancel       context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if deps.Sensors == nil || deps.Classifications == nil {
		return nil, fmt.Errorf("telemetry logs are required")
	}
	// Scanner, Scorer, MQTT and TSDB are optional; the endpoints that
	// need them answer 503 when absent.

	s := &Server{
		cfg:             deps.Config,
		wsCfg:           deps.WS,
		logger:          deps.Logger,
		registry:        deps.Registry,
		queue:           deps.Queue,
		sensors:         deps.Sensors,
		classifications: deps.Classifications,
		scanner:         deps.Scanner,
		targets:         deps.Targets,
		scorer:          deps.Scorer,
		mqtt:            deps.MQTT,
		tsdb:            deps.TSDB,
		version:         deps.Version,
		deviceClient:    &http.Client{Timeout: deviceCallTimeout},
		startTime:       time.Now(),
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the event hub, creating it if the server has not started
// yet. The scheduler publishes through it.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It wires the hub's MQTT mirror, subscribes to the inbound command
// topic, and launches the HTTP listener in a background goroutine. The
// server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if s.mqtt != nil {
		s.hub.SetSink(s.mqtt)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	if err := s.subscribeCommandRelay(); err != nil {
		s.logger.Warn("mqtt command relay unavailable", "error", err)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// mqttCommand is the payload accepted on the inbound command topic.
type mqttCommand struct {
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority,omitempty"`
}

// subscribeCommandRelay accepts device commands from external
// automation over MQTT: a publish to sortline/commands/<device-id> is
// enqueued exactly like a REST enqueue.
func (s *Server) subscribeCommandRelay() error {
	if s.mqtt == nil {
		return nil
	}

	return s.mqtt.Subscribe(mqtt.CommandTopicFilter, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		deviceID, ok := mqtt.DeviceFromCommandTopic(msg.Topic())
		if !ok {
			s.logger.Warn("command on malformed topic ignored", "topic", msg.Topic())
			return
		}

		var cmd mqttCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			s.logger.Warn("unparsable mqtt command ignored",
				"topic", msg.Topic(), "error", err)
			return
		}

		priority := cmd.Priority
		if priority == 0 {
			priority = defaultCommandPriority
		}

		if _, err := s.queue.Enqueue(deviceID, device.CommandKind(cmd.Kind), cmd.Parameters, priority); err != nil {
			s.logger.Warn("mqtt command rejected", "device_id", deviceID, "error", err)
			return
		}
		s.logger.Debug("mqtt command queued", "device_id", deviceID, "kind", cmd.Kind)
	})
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
