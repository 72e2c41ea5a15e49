package gcn

import (
	"context"
	"io"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/common"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/sampling"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// ObjectScheme prefixes weight and config locations held in object storage:
// minio://bucket/key.
const ObjectScheme = "minio://"

// ObjectOpener fetches objects from the artifact store.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// ModelState is the lifecycle state of a ModelManager.
type ModelState int

const (
	ModelStateUnloaded ModelState = iota
	ModelStateLoading
	ModelStateReady
	ModelStateError
)

func (s ModelState) String() string {
	switch s {
	case ModelStateUnloaded:
		return "UNLOADED"
	case ModelStateLoading:
		return "LOADING"
	case ModelStateReady:
		return "READY"
	case ModelStateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ManagerConfig locates the model. ConfigPath and WeightsPath accept local
// paths or minio:// URLs. An empty ConfigPath uses DefaultModelConfig with
// Name applied.
type ManagerConfig struct {
	Name               string
	ConfigPath         string
	WeightsPath        string
	AllowRandomWeights bool
	RandomSeed         int64
	Warmup             bool
}

// ModelManager owns the loaded Model.
type ModelManager struct {
	cfg     ManagerConfig
	objects ObjectOpener
	logger  logging.Logger
	metrics common.IntelligenceMetrics

	mu      sync.RWMutex
	state   ModelState
	model   *Model
	source  string
	loadErr error
}

// NewModelManager creates a manager. objects may be nil when no minio://
// locations are used.
func NewModelManager(cfg ManagerConfig, objects ObjectOpener, logger logging.Logger, metrics common.IntelligenceMetrics) (*ModelManager, error) {
	if cfg.WeightsPath == "" && !cfg.AllowRandomWeights {
		return nil, errors.New(errors.CodeModelConfigInvalid, "weights path is required unless random weights are allowed")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = common.NewNoopIntelligenceMetrics()
	}
	return &ModelManager{
		cfg:     cfg,
		objects: objects,
		logger:  logger.Named("gcn"),
		metrics: metrics,
		state:   ModelStateUnloaded,
	}, nil
}

// Load reads the config and weights and builds the Model. Loading an already
// ready manager is a no-op.
func (m *ModelManager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == ModelStateReady {
		return nil
	}
	m.state = ModelStateLoading
	start := time.Now()

	model, source, err := m.build(ctx)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		m.state = ModelStateError
		m.loadErr = err
		m.metrics.RecordModelLoad(ctx, m.cfg.Name, source, elapsed, false)
		m.logger.Error("model load failed", logging.String("model", m.cfg.Name), logging.Err(err))
		return err
	}

	if m.cfg.Warmup {
		if err := warmup(model); err != nil {
			m.logger.Warn("warmup failed, proceeding anyway", logging.Err(err))
		}
	}

	m.model = model
	m.source = source
	m.state = ModelStateReady
	m.loadErr = nil
	m.metrics.RecordModelLoad(ctx, m.cfg.Name, source, elapsed, true)
	m.logger.Info("model loaded",
		logging.String("model", model.Config().Name),
		logging.String("source", source),
		logging.Int("hidden_dim", model.Config().HiddenDim),
		logging.Int("num_layers", model.Config().NumLayers),
		logging.Float64("duration_ms", elapsed))
	return nil
}

func (m *ModelManager) build(ctx context.Context) (*Model, string, error) {
	cfg := DefaultModelConfig()
	if m.cfg.Name != "" {
		cfg.Name = m.cfg.Name
	}
	configLoaded := false
	if m.cfg.ConfigPath != "" {
		rc, err := m.open(ctx, m.cfg.ConfigPath)
		if err != nil {
			if !(m.cfg.AllowRandomWeights && errors.IsNotFound(err)) {
				return nil, sourceOf(m.cfg.ConfigPath), err
			}
			m.logger.Warn("model config not found, using defaults", logging.String("path", m.cfg.ConfigPath))
		} else {
			cfg, err = ParseModelConfig(rc)
			rc.Close()
			if err != nil {
				return nil, sourceOf(m.cfg.ConfigPath), err
			}
			configLoaded = true
		}
	}

	if m.cfg.WeightsPath != "" {
		rc, err := m.open(ctx, m.cfg.WeightsPath)
		switch {
		case err == nil:
			defer rc.Close()
			w, err := ReadWeights(rc, cfg)
			if err != nil {
				return nil, sourceOf(m.cfg.WeightsPath), err
			}
			if configLoaded && !w.Config.SameArchitecture(cfg) {
				m.logger.Warn("weights file carries a different architecture than the model config, using the weights file",
					logging.String("config_path", m.cfg.ConfigPath),
					logging.String("weights_path", m.cfg.WeightsPath),
					logging.String("config", cfg.String()),
					logging.String("weights", w.Config.String()))
			}
			model, err := NewModel(w.Config, w)
			return model, sourceOf(m.cfg.WeightsPath), err
		case !(m.cfg.AllowRandomWeights && errors.IsNotFound(err)):
			return nil, sourceOf(m.cfg.WeightsPath), err
		}
		m.logger.Warn("weights not found, falling back to random weights", logging.String("path", m.cfg.WeightsPath))
	}

	w, err := RandomWeights(cfg, rand.New(rand.NewSource(m.cfg.RandomSeed)))
	if err != nil {
		return nil, "random", err
	}
	model, err := NewModel(cfg, w)
	return model, "random", err
}

func sourceOf(path string) string {
	if strings.HasPrefix(path, ObjectScheme) {
		return "object_store"
	}
	return "file"
}

func (m *ModelManager) open(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, ObjectScheme) {
		bucket, key, ok := strings.Cut(strings.TrimPrefix(path, ObjectScheme), "/")
		if !ok || bucket == "" || key == "" {
			return nil, errors.New(errors.CodeModelConfigInvalid, "malformed object location").WithDetail(path)
		}
		if m.objects == nil {
			return nil, errors.New(errors.CodeModelLoadFailed, "object store is not configured").WithDetail(path)
		}
		return m.objects.Open(ctx, bucket, key)
	}
	f, err := os.Open(path)
	if err != nil {
		code := errors.CodeModelLoadFailed
		if os.IsNotExist(err) {
			code = errors.CodeArtifactNotFound
		}
		return nil, errors.Wrap(err, code, "open model file").WithDetail(path)
	}
	return f, nil
}

// warmup pushes one two-node cluster through the network.
func warmup(model *Model) error {
	c := &sampling.Cluster{
		Nodes:      []int{0, 1},
		Coords:     []float64{0, 0, 1, 1},
		EdgeValues: []float64{0, 1.4142135623730951, 1.4142135623730951, 0},
		Scale:      1,
	}
	_, err := model.Forward([]*sampling.Cluster{c})
	return err
}

// Unload drops the model.
func (m *ModelManager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == ModelStateUnloaded {
		return
	}
	m.model = nil
	m.state = ModelStateUnloaded
	m.logger.Info("model unloaded", logging.String("model", m.cfg.Name))
}

// Model returns the ready model or a CodeModelNotLoaded error.
func (m *ModelManager) Model() (*Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != ModelStateReady || m.model == nil {
		return nil, errors.Newf(errors.CodeModelNotLoaded, "model %q is %s", m.cfg.Name, m.state)
	}
	return m.model, nil
}

// State returns the current lifecycle state.
func (m *ModelManager) State() ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Source reports where the loaded weights came from: file, object_store or
// random.
func (m *ModelManager) Source() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// LastError returns the last load error, if any.
func (m *ModelManager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadErr
}
