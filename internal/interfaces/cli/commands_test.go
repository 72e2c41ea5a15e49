package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainHeatmap "github.com/turtacn/GCN-Heatmap/internal/domain/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/gcn"
	"github.com/turtacn/GCN-Heatmap/internal/testutil"
	apperrors "github.com/turtacn/GCN-Heatmap/pkg/errors"
)

const tinyModel = `{"name":"tiny","num_nodes":20,"node_dim":2,"voc_edges_in":3,"voc_edges_out":2,` +
	`"hidden_dim":8,"num_layers":2,"mlp_layers":2,"aggregation":"mean"}`

func writeTinyModel(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tiny.json")
	require.NoError(t, os.WriteFile(path, []byte(tinyModel), 0o644))
	return path
}

func TestInspectCmd(t *testing.T) {
	dir := t.TempDir()
	h := domainHeatmap.New(3)
	h.Set(0, 1, 0.75)
	h.Set(0, 2, 0.25)
	h.Set(1, 0, 1)
	file := filepath.Join(dir, "3_0.txt")
	require.NoError(t, domainHeatmap.WriteFile(file, h, &domainHeatmap.Statistics{MeanRank: 1.5, FalseNegativeEdges: 2, Density: 0.5}))
	cfgPath := writeConfig(t, dir, "")

	out, err := runCLI(t, "inspect", file, "-o", "json", "--config", cfgPath)
	require.NoError(t, err)

	var v inspectView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 3, v.N)
	assert.Equal(t, 1, v.EmptyRows)
	assert.InDelta(t, 1.0, v.RowSumMin, 1e-6)
	assert.InDelta(t, 1.0, v.RowSumMax, 1e-6)
	assert.InDelta(t, 0.125, v.SymRowSumMin, 1e-6)
	assert.InDelta(t, 1.0, v.SymRowSumMax, 1e-6)
	require.NotNil(t, v.Stats)
	assert.InDelta(t, 1.5, v.Stats.MeanRank, 1e-6)
	assert.Equal(t, 2, v.Stats.FalseNegativeEdges)
	assert.Empty(t, v.TopEdges)

	out, err = runCLI(t, "inspect", file, "--top", "1", "-o", "json", "--config", cfgPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	require.Len(t, v.TopEdges, 3)
	require.NotEmpty(t, v.TopEdges[0])
	assert.Equal(t, 1, v.TopEdges[0][0].To)
}

func TestInspectCmd_MissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "inspect", filepath.Join(dir, "nope.txt"), "--config", writeConfig(t, dir, ""))
	require.Error(t, err)
}

func TestWeightsInitCmd_LocalFile(t *testing.T) {
	dir := t.TempDir()
	model := writeTinyModel(t, dir)
	out := filepath.Join(dir, "weights", "tiny.weights.json")

	stdout, err := runCLI(t, "weights", "init", "--model-config", model, "--out", out, "--seed", "7",
		"-o", "json", "--config", writeConfig(t, dir, ""))
	require.NoError(t, err)

	var res weightsInitResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, weightsInitResult{Location: out, Model: "tiny", HiddenDim: 8, NumLayers: 2, Seed: 7}, res)

	mc, err := gcn.LoadModelConfig(model)
	require.NoError(t, err)
	_, err = gcn.LoadWeights(out, mc)
	require.NoError(t, err)
}

func TestWeightsInitCmd_ObjectStoreNeedsMinIO(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "weights", "init", "--model-config", writeTinyModel(t, dir),
		"--out", "minio://models/tiny.weights.json", "--config", writeConfig(t, dir, ""))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
}

func TestBuildCmd_IndexedDataset(t *testing.T) {
	dir := t.TempDir()
	model := writeTinyModel(t, dir)
	testutil.WriteInstanceFile(t, filepath.Join(dir, "data"), "rei", "tiny",
		testutil.RandomInstance(20, 1, true), testutil.RandomInstance(20, 2, true))
	cfgPath := writeConfig(t, dir, "model:\n  name: tiny\n  dir: "+filepath.Join(dir, "models")+"\n"+
		"  config_path: "+model+"\n  allow_random_weights: true\n  warmup: false\n"+
		"builder:\n  concurrency: 1\n")

	out, err := runCLI(t, "build", "--dataset", "rei", "--instance", "tiny", "--scale", "20",
		"--batch-size", "4", "--k", "8", "--k-expand", "12", "-o", "json", "--config", cfgPath)
	require.NoError(t, err)

	var report struct {
		Results []struct {
			Index int    `json:"index"`
			N     int    `json:"n"`
			File  string `json:"file"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Results, 2)
	for i, name := range []string{"tiny_0.txt", "tiny_1.txt"} {
		path := filepath.Join(dir, "heatmap", "rei", name)
		assert.FileExists(t, path)
		h, _, err := domainHeatmap.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 20, h.N)
		assert.Equal(t, 20, report.Results[i].N)
	}
}

func TestBuildCmd_MissingInstance(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "model:\n  config_path: "+writeTinyModel(t, dir)+
		"\n  dir: "+filepath.Join(dir, "models")+"\n  allow_random_weights: true\n  warmup: false\n")

	_, err := runCLI(t, "build", "--dataset", "rei", "--instance", "absent", "--config", cfgPath)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInstanceFileNotFound))
}

func TestBuildCmd_RequiresFlags(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "build", "--config", writeConfig(t, dir, ""))
	require.Error(t, err)
}

func TestSubmitCmd_RequiresKafka(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "submit", "--dataset", "tsp50", "--instance", "test", "--config", writeConfig(t, dir, ""))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
}

type fakeMigrator struct {
	calls   []string
	version uint
	dirty   bool
	upErr   error
	closed  bool
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	if f.upErr != nil {
		return f.upErr
	}
	f.version = 3
	return nil
}

func (f *fakeMigrator) Down(steps int) error {
	f.calls = append(f.calls, "down")
	f.version -= uint(steps)
	return nil
}

func (f *fakeMigrator) Status() (uint, bool, error) { return f.version, f.dirty, nil }

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.version, f.dirty = uint(v), false
	return nil
}

func (f *fakeMigrator) Close() error { f.closed = true; return nil }

func withFakeMigrator(t *testing.T, f *fakeMigrator) *string {
	t.Helper()
	var gotDir string
	orig := openMigrator
	openMigrator = func(_, dir string) (migrator, error) {
		gotDir = dir
		return f, nil
	}
	t.Cleanup(func() { openMigrator = orig })
	return &gotDir
}

func TestMigrateCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	f := &fakeMigrator{}
	gotDir := withFakeMigrator(t, f)

	out, err := runCLI(t, "migrate", "up", "--dir", "db/migrations", "-o", "json", "--config", cfgPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":3,"dirty":false}`, out)
	assert.Equal(t, "db/migrations", *gotDir)
	assert.True(t, f.closed)

	out, err = runCLI(t, "migrate", "down", "--steps", "2", "-o", "json", "--config", cfgPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"dirty":false}`, out)

	f.dirty = true
	out, err = runCLI(t, "migrate", "force", "5", "-o", "text", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "version 5, dirty false\n", out)
	assert.Equal(t, []string{"up", "down", "force"}, f.calls)
}

func TestMigrateCmd_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	f := &fakeMigrator{upErr: errors.New("dirty database")}
	withFakeMigrator(t, f)

	_, err := runCLI(t, "migrate", "up", "--config", cfgPath)
	require.Error(t, err)
	assert.True(t, f.closed)

	_, err = runCLI(t, "migrate", "force", "abc", "--config", cfgPath)
	require.Error(t, err)
}
