// Package opensearch indexes build run summaries so finished builds can be
// searched by dataset, status and quality.
package opensearch

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v3"
	"github.com/opensearch-project/opensearch-go/v3/opensearchapi"

	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

var ErrConnectionFailed = errors.New(errors.CodeSearchIndex, "opensearch connection failed")

// ClientOptions tune the HTTP client beyond what config exposes.
type ClientOptions struct {
	MaxRetries          int
	RetryBackoff        time.Duration
	HealthCheckInterval time.Duration
}

// Client holds the API client and tracks cluster health in the background.
type Client struct {
	api     *opensearchapi.Client
	opts    ClientOptions
	logger  logging.Logger
	healthy atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient connects to cfg.Addresses and pings the cluster.
func NewClient(ctx context.Context, cfg config.OpenSearchConfig, opts ClientOptions, log logging.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.InvalidParam("opensearch addresses required")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.HealthCheckInterval == 0 {
		opts.HealthCheckInterval = 30 * time.Second
	}

	transport := &http.Transport{MaxIdleConnsPerHost: 10}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	api, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses:     cfg.Addresses,
			Username:      cfg.Username,
			Password:      cfg.Password,
			Transport:     transport,
			MaxRetries:    opts.MaxRetries,
			RetryBackoff:  func(int) time.Duration { return opts.RetryBackoff },
			RetryOnStatus: []int{429, 502, 503, 504},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSearchIndex, "create opensearch client")
	}

	c := &Client{api: api, opts: opts, logger: log.Named("opensearch")}
	if err := c.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeSearchIndex, ErrConnectionFailed.Message)
	}

	hctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.healthLoop(hctx)
	return c, nil
}

// Ping checks the cluster and records the outcome for IsHealthy.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.api.Ping(ctx, nil)
	if err == nil && resp != nil && resp.IsError() {
		err = errors.New(errors.CodeSearchIndex, "ping returned error status").WithDetailf("status %d", resp.StatusCode)
	}
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("opensearch ping failed", logging.Err(err))
		return err
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the last ping.
func (c *Client) IsHealthy() bool { return c.healthy.Load() }

// API exposes the underlying client.
func (c *Client) API() *opensearchapi.Client { return c.api }

// Close stops the health loop.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
	return nil
}

func (c *Client) healthLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.Ping(ctx)
			switch curr := c.healthy.Load(); {
			case prev && !curr:
				c.logger.Error("opensearch cluster became unhealthy", logging.Err(err))
			case !prev && curr:
				c.logger.Info("opensearch cluster recovered")
			}
		}
	}
}
