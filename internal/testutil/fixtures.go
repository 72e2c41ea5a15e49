package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
)

// RandomInstance returns n uniform points in the unit square. With tour set
// the identity tour 0..n-1,0 is attached.
func RandomInstance(n int, seed int64, tour bool) *instance.Instance {
	rng := rand.New(rand.NewSource(seed))
	inst := &instance.Instance{Coords: make([]instance.Point, n)}
	for i := range inst.Coords {
		inst.Coords[i] = instance.Point{X: rng.Float64(), Y: rng.Float64()}
	}
	if tour {
		inst.Tour = make([]int, n+1)
		for i := 0; i < n; i++ {
			inst.Tour[i] = i
		}
	}
	return inst
}

// WriteInstanceFile writes instances as {dir}/{dataset}/{name}.txt, one per
// line, and returns the path.
func WriteInstanceFile(t testing.TB, dir, dataset, name string, instances ...*instance.Instance) string {
	t.Helper()
	lines := make([]string, len(instances))
	for i, inst := range instances {
		lines[i] = instance.Format(inst)
	}
	path := filepath.Join(dir, dataset, name+".txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}
