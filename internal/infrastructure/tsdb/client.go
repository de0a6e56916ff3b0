package tsdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

// Client wraps the InfluxDB client with a non-blocking write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig
	logger   *logging.Logger
	done     chan struct{}
}

// Connect creates the client and verifies the instance is reachable.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger *logging.Logger) (*Client, error) {
	options := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval * 1000))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:      cfg,
		logger:   logger.With("component", "tsdb"),
		done:     make(chan struct{}),
	}

	if err := c.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, err
	}

	go c.handleWriteErrors()

	c.logger.Info("connected to influxdb", "url", cfg.URL, "bucket", cfg.Bucket)
	return c, nil
}

// handleWriteErrors drains the async write error channel so failures
// are visible in the logs.
func (c *Client) handleWriteErrors() {
	errCh := c.writeAPI.Errors()
	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return
			}
			c.logger.Error("influxdb write failed", "error", err)
		case <-c.done:
			return
		}
	}
}

// HealthCheck verifies the InfluxDB instance answers within 5 seconds.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("%w: status %s", ErrUnhealthy, health.Status)
	}
	return nil
}

// Flush forces any buffered points to be written.
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Close flushes pending points and releases the connection.
func (c *Client) Close() {
	close(c.done)
	c.writeAPI.Flush()
	c.client.Close()
	c.logger.Info("influxdb connection closed")
}
