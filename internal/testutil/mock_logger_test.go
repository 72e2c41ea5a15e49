package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.GetMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)
	v, ok := messages[0].Field("key")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	logger.Clear()
	assert.Len(t, logger.GetMessages(), 0)

	logger.Error("test error")
	assert.True(t, logger.HasMessage("error", "test error"))
	assert.False(t, logger.HasMessage("info", "test info"))
}

func TestMockLogger_ChildrenShareStore(t *testing.T) {
	root := testutil.NewMockLogger()
	child := root.Named("builder").Named("instance").With(logging.Int("index", 3))

	child.Warn("build 1 heatmap slow")

	msgs := root.FindPrefix("warn", "build 1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "builder.instance", msgs[0].Logger)
	v, ok := msgs[0].Field("index")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}
