package heatmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// IndexedDataset is the dataset whose heatmaps are named per instance line.
const IndexedDataset = "rei"

// FileName names the heatmap of instance idx of file ins. The indexed
// dataset keeps one file per instance; every other dataset writes
// {scale}_0.txt.
func FileName(dataset string, scale int, ins string, idx int) string {
	return FileNameFor(dataset, IndexedDataset, scale, ins, idx)
}

// FileNameFor is FileName with a configurable indexed dataset name.
func FileNameFor(dataset, indexed string, scale int, ins string, idx int) string {
	if dataset == indexed {
		return fmt.Sprintf("%s_%d.txt", ins, idx)
	}
	return fmt.Sprintf("%d_0.txt", scale)
}

// ConsumerFileName is the name the search consumer opens for the heatmap of
// instance index with n nodes.
func ConsumerFileName(n, index int) string {
	return fmt.Sprintf("%d_%d.txt", n, index)
}

// Write encodes h: the node count, N rows of N space separated weights with
// six decimals, then the mean rank, false-negative count and density on one
// line each. A nil st writes zeros.
func Write(w io.Writer, h *Heatmap, st *Statistics) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	if _, err := fmt.Fprintf(bw, "%d\n", h.N); err != nil {
		return errors.Wrap(err, errors.CodeHeatmapWrite, "write header")
	}
	buf := make([]byte, 0, 16*h.N)
	for i := 0; i < h.N; i++ {
		buf = buf[:0]
		for j, v := range h.Row(i) {
			if j > 0 {
				buf = append(buf, ' ')
			}
			buf = strconv.AppendFloat(buf, v, 'f', 6, 64)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrap(err, errors.CodeHeatmapWrite, "write row").WithDetailf("row %d", i)
		}
	}
	var s Statistics
	if st != nil {
		s = *st
	}
	if _, err := fmt.Fprintf(bw, "%.6f\n%d\n%.6f\n", s.MeanRank, s.FalseNegativeEdges, s.Density); err != nil {
		return errors.Wrap(err, errors.CodeHeatmapWrite, "write statistics")
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeHeatmapWrite, "flush heatmap")
	}
	return nil
}

// WriteFile writes h to path through a temporary file and a rename, creating
// parent directories.
func WriteFile(path string, h *Heatmap, st *Statistics) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeHeatmapWrite, "create heatmap dir").WithDetail(dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.CodeHeatmapWrite, "create temp file").WithDetail(path)
	}
	if err := Write(tmp, h, st); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CodeHeatmapWrite, "close temp file").WithDetail(path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CodeHeatmapWrite, "rename heatmap").WithDetail(path)
	}
	return nil
}

// Read decodes a heatmap. The trailing statistics are optional; st is nil
// when they are absent.
func Read(r io.Reader) (*Heatmap, *Statistics, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<20)
	sc.Split(bufio.ScanWords)

	next := func(what string) (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", errors.Wrap(err, errors.CodeHeatmapMalformed, "read "+what)
			}
			return "", io.EOF
		}
		return sc.Text(), nil
	}

	tok, err := next("node count")
	if err != nil {
		return nil, nil, malformed(err, "missing node count")
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n <= 0 {
		return nil, nil, errors.Newf(errors.CodeHeatmapMalformed, "invalid node count %q", tok)
	}

	h := New(n)
	for i := range h.P {
		tok, err := next("weight")
		if err != nil {
			return nil, nil, malformed(err, fmt.Sprintf("expected %d weights, got %d", n*n, i))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, nil, errors.Newf(errors.CodeHeatmapMalformed, "invalid weight %q at entry %d", tok, i)
		}
		h.P[i] = v
	}

	tok, err = next("statistics")
	if err == io.EOF {
		return h, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var st Statistics
	if st.MeanRank, err = strconv.ParseFloat(tok, 64); err != nil {
		return nil, nil, errors.Newf(errors.CodeHeatmapMalformed, "invalid mean rank %q", tok)
	}
	if tok, err = next("statistics"); err != nil {
		return nil, nil, malformed(err, "truncated statistics")
	}
	if st.FalseNegativeEdges, err = strconv.Atoi(tok); err != nil {
		return nil, nil, errors.Newf(errors.CodeHeatmapMalformed, "invalid false negative count %q", tok)
	}
	if tok, err = next("statistics"); err != nil {
		return nil, nil, malformed(err, "truncated statistics")
	}
	if st.Density, err = strconv.ParseFloat(tok, 64); err != nil {
		return nil, nil, errors.Newf(errors.CodeHeatmapMalformed, "invalid density %q", tok)
	}
	return h, &st, nil
}

func malformed(err error, msg string) error {
	if err == io.EOF {
		return errors.New(errors.CodeHeatmapMalformed, msg)
	}
	return err
}

// ReadFile reads a heatmap file.
func ReadFile(path string) (*Heatmap, *Statistics, error) {
	f, err := os.Open(path)
	if err != nil {
		code := errors.CodeHeatmapMalformed
		if os.IsNotExist(err) {
			code = errors.CodeArtifactNotFound
		}
		return nil, nil, errors.Wrap(err, code, "open heatmap").WithDetail(path)
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}
