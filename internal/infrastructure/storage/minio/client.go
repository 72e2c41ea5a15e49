package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// HeatmapPrefix is the key prefix, under the configured prefix, of uploaded
// heatmaps. Lifecycle expiry applies to it only, so weight files stay.
const HeatmapPrefix = "heatmaps/"

// ObjectAPI is the subset of the MinIO SDK the adapter uses.
type ObjectAPI interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	SetBucketLifecycle(ctx context.Context, bucket string, cfg *lifecycle.Configuration) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// sdkAPI narrows GetObject to io.ReadCloser so ObjectAPI can be faked.
type sdkAPI struct{ *minio.Client }

func (s sdkAPI) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return s.Client.GetObject(ctx, bucket, key, opts)
}

// Client owns the artifact bucket.
type Client struct {
	api    ObjectAPI
	cfg    config.MinIOConfig
	logger logging.Logger
}

// NewClient connects, creates the bucket when missing and installs the
// heatmap retention rule.
func NewClient(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.InvalidParam("minio endpoint required")
	}
	applyDefaults(&cfg)
	sdk, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "create minio client")
	}

	c := newClientWithAPI(sdkAPI{sdk}, cfg, log)
	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := c.api.ListBuckets(ictx); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "connect to minio").WithDetail(cfg.Endpoint)
	}
	if err := c.EnsureBucket(ictx); err != nil {
		return nil, err
	}
	if err := c.SetupLifecycle(ictx); err != nil {
		return nil, err
	}
	c.logger.Info("minio client connected", logging.String("endpoint", cfg.Endpoint), logging.String("bucket", cfg.Bucket), logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

func newClientWithAPI(api ObjectAPI, cfg config.MinIOConfig, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	applyDefaults(&cfg)
	return &Client{api: api, cfg: cfg, logger: log.Named("minio")}
}

func applyDefaults(cfg *config.MinIOConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "gcn-heatmap"
	}
}

// Bucket is the artifact bucket name.
func (c *Client) Bucket() string { return c.cfg.Bucket }

// EnsureBucket creates the bucket unless it exists.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "check bucket").WithDetail(c.cfg.Bucket)
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{Region: c.cfg.Region}); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "create bucket").WithDetail(c.cfg.Bucket)
	}
	c.logger.Info("bucket created", logging.String("bucket", c.cfg.Bucket))
	return nil
}

// SetupLifecycle expires uploaded heatmaps after ArtifactRetentionDays. A
// rejected rule is logged, not returned; some gateways lack lifecycle
// support.
func (c *Client) SetupLifecycle(ctx context.Context) error {
	days := c.cfg.ArtifactRetentionDays
	if days <= 0 {
		return nil
	}
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{{
		ID:         "heatmap-retention",
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: c.cfg.Prefix + HeatmapPrefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	if err := c.api.SetBucketLifecycle(ctx, c.cfg.Bucket, lc); err != nil {
		c.logger.Warn("failed to set heatmap retention", logging.String("bucket", c.cfg.Bucket), logging.Err(err))
	}
	return nil
}

// HealthStatus is the outcome of HealthCheck.
type HealthStatus struct {
	Healthy      bool
	Latency      time.Duration
	BucketExists bool
	Error        string
}

// HealthCheck lists buckets and checks the artifact bucket.
func (c *Client) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	_, err := c.api.ListBuckets(ctx)
	status := &HealthStatus{Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		status.Error = err.Error()
		return status, errors.Wrap(err, errors.CodeStorage, "minio health check")
	}
	status.BucketExists, _ = c.api.BucketExists(ctx, c.cfg.Bucket)
	if !status.BucketExists {
		status.Healthy = false
		status.Error = "bucket " + c.cfg.Bucket + " missing"
	}
	return status, nil
}
