package minio

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/gcn"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// ErrObjectNotFound is returned for absent keys.
var ErrObjectNotFound = errors.New(errors.CodeArtifactNotFound, "object not found")

// ArtifactStore uploads heatmaps and serves model files from object storage.
type ArtifactStore struct {
	client *Client
	logger logging.Logger
}

// NewArtifactStore builds a store on client.
func NewArtifactStore(client *Client, log logging.Logger) *ArtifactStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ArtifactStore{client: client, logger: log.Named("artifacts")}
}

var (
	_ appHeatmap.ArtifactStore = (*ArtifactStore)(nil)
	_ gcn.ObjectOpener         = (*ArtifactStore)(nil)
)

// URI renders a location in the form the model manager resolves.
func URI(bucket, key string) string {
	return gcn.ObjectScheme + bucket + "/" + key
}

// ParseURI splits a minio://bucket/key location.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, gcn.ObjectScheme)
	if ok {
		bucket, key, ok = strings.Cut(rest, "/")
	}
	if !ok || bucket == "" || key == "" {
		return "", "", errors.InvalidParam("malformed object location").WithDetail(uri)
	}
	return bucket, key, nil
}

// PutHeatmap uploads a heatmap file under {prefix}heatmaps/{key}.
func (s *ArtifactStore) PutHeatmap(ctx context.Context, key string, data []byte) (string, error) {
	return s.Put(ctx, s.client.Bucket(), s.client.cfg.Prefix+HeatmapPrefix+key, data, "text/plain")
}

// Put uploads data and returns its URI.
func (s *ArtifactStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", errors.InvalidParam("object key required")
	}
	info, err := s.client.api.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeStorage, "upload object").WithDetail(bucket + "/" + key)
	}
	s.logger.Debug("object uploaded", logging.String("bucket", bucket), logging.String("key", key), logging.Int64("size", info.Size))
	return URI(bucket, key), nil
}

// Open streams an object. Missing objects are ErrObjectNotFound.
func (s *ArtifactStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if _, err := s.client.api.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound.WithDetail(bucket + "/" + key)
		}
		return nil, errors.Wrap(err, errors.CodeStorage, "stat object").WithDetail(bucket + "/" + key)
	}
	rc, err := s.client.api.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "get object").WithDetail(bucket + "/" + key)
	}
	return rc, nil
}

// Exists reports whether the object is present.
func (s *ArtifactStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.api.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, errors.Wrap(err, errors.CodeStorage, "stat object").WithDetail(bucket + "/" + key)
	}
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}
