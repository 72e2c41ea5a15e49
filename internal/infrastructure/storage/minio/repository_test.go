package minio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/internal/config"
	pkgerrors "github.com/turtacn/GCN-Heatmap/pkg/errors"
)

func newTestStore() (*ArtifactStore, *mockObjectAPI) {
	api := &mockObjectAPI{}
	client := newClientWithAPI(api, config.MinIOConfig{Bucket: "artifacts", Prefix: "gcn/"}, nil)
	return NewArtifactStore(client, nil), api
}

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("minio://models/gcn/weights.json")
	require.NoError(t, err)
	assert.Equal(t, "models", bucket)
	assert.Equal(t, "gcn/weights.json", key)
	assert.Equal(t, "minio://models/gcn/weights.json", URI(bucket, key))

	for _, bad := range []string{"s3://a/b", "minio://bucket", "minio:///key", "minio://bucket/"} {
		_, _, err := ParseURI(bad)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidParam), bad)
	}
}

func TestArtifactStore_PutHeatmap(t *testing.T) {
	store, api := newTestStore()
	data := []byte("output\n")
	api.On("PutObject", mock.Anything, "artifacts", "gcn/heatmaps/tsp50/test/heatmaptsp50_0.txt", data, int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain"}).Return(minio.UploadInfo{Size: int64(len(data))}, nil)

	uri, err := store.PutHeatmap(context.Background(), "tsp50/test/heatmaptsp50_0.txt", data)
	require.NoError(t, err)
	assert.Equal(t, "minio://artifacts/gcn/heatmaps/tsp50/test/heatmaptsp50_0.txt", uri)
	api.AssertExpectations(t)
}

func TestArtifactStore_PutErrors(t *testing.T) {
	store, api := newTestStore()
	_, err := store.Put(context.Background(), "artifacts", "", nil, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidParam))

	api.On("PutObject", mock.Anything, "artifacts", "k", mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("quota"))
	_, err = store.Put(context.Background(), "artifacts", "k", []byte("x"), "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStorage))
}

func TestArtifactStore_Open(t *testing.T) {
	store, api := newTestStore()
	api.On("StatObject", mock.Anything, "models", "w.json", minio.StatObjectOptions{}).Return(minio.ObjectInfo{Size: 2}, nil)
	api.On("GetObject", mock.Anything, "models", "w.json", minio.GetObjectOptions{}).
		Return(io.NopCloser(strings.NewReader("{}")), nil)

	rc, err := store.Open(context.Background(), "models", "w.json")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestArtifactStore_OpenMissing(t *testing.T) {
	store, api := newTestStore()
	api.On("StatObject", mock.Anything, "models", "gone", mock.Anything).
		Return(minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404})

	_, err := store.Open(context.Background(), "models", "gone")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeArtifactNotFound))
	api.AssertNotCalled(t, "GetObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestArtifactStore_Exists(t *testing.T) {
	store, api := newTestStore()
	api.On("StatObject", mock.Anything, "b", "here", mock.Anything).Return(minio.ObjectInfo{}, nil)
	api.On("StatObject", mock.Anything, "b", "gone", mock.Anything).Return(minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"})
	api.On("StatObject", mock.Anything, "b", "err", mock.Anything).Return(minio.ObjectInfo{}, errors.New("timeout"))

	ok, err := store.Exists(context.Background(), "b", "here")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "b", "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Exists(context.Background(), "b", "err")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStorage))
}
