package instance

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// tourMarker separates the coordinate block from the 1-based tour.
const tourMarker = "output"

// maxLineBytes bounds a single instance line (a 100k-node instance with
// coordinates and tour stays well below this).
const maxLineBytes = 64 << 20

// ParseLine parses one instance line of the form
//
//	x1 y1 x2 y2 ... xN yN output t1 t2 ... tN t1
//
// Tour indices are 1-based on disk and zero-based in memory. A tour missing its
// closing node is closed automatically; a line without the marker yields an
// instance without a tour.
func ParseLine(line string, index int) (*Instance, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New(errors.CodeInstanceMalformed, "empty instance line").WithDetailf("line=%d", index)
	}

	coordFields := fields
	var tourFields []string
	for i, f := range fields {
		if f == tourMarker {
			coordFields = fields[:i]
			tourFields = fields[i+1:]
			break
		}
	}

	if len(coordFields)%2 != 0 {
		return nil, errors.Newf(errors.CodeInstanceMalformed, "odd coordinate count %d", len(coordFields)).WithDetailf("line=%d", index)
	}

	inst := &Instance{Index: index, Coords: make([]Point, len(coordFields)/2)}
	for i := range inst.Coords {
		x, err := strconv.ParseFloat(coordFields[2*i], 64)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInstanceMalformed, "parse x coordinate").WithDetailf("line=%d node=%d", index, i)
		}
		y, err := strconv.ParseFloat(coordFields[2*i+1], 64)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInstanceMalformed, "parse y coordinate").WithDetailf("line=%d node=%d", index, i)
		}
		inst.Coords[i] = Point{X: x, Y: y}
	}

	if len(tourFields) > 0 {
		tour := make([]int, 0, len(tourFields)+1)
		for i, f := range tourFields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeInstanceMalformed, "parse tour entry").WithDetailf("line=%d position=%d", index, i)
			}
			tour = append(tour, v-1)
		}
		if len(tour) == len(inst.Coords) {
			tour = append(tour, tour[0])
		}
		inst.Tour = tour
	}
	return inst, nil
}

// Read parses every non-empty line of r. expectedN, when positive, is the
// required node count of every instance.
func Read(r io.Reader, expectedN int) ([]*Instance, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineBytes)

	var out []*Instance
	idx := 0
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		inst, err := ParseLine(text, idx)
		if err != nil {
			return nil, err
		}
		if err := inst.Validate(expectedN); err != nil {
			return nil, err
		}
		out = append(out, inst)
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInstanceMalformed, "scan instance file")
	}
	if len(out) == 0 {
		return nil, errors.New(errors.CodeInstanceEmpty, "instance file holds no instances")
	}
	return out, nil
}

// ReadFile opens path and delegates to Read.
func ReadFile(path string, expectedN int) ([]*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeInstanceFileNotFound, "instance file not found").WithDetail(path)
		}
		return nil, errors.Wrap(err, errors.CodeInstanceMalformed, "open instance file").WithDetail(path)
	}
	defer f.Close()

	out, err := Read(f, expectedN)
	if err != nil {
		if ae, ok := err.(*errors.AppError); ok && ae.Detail == "" {
			return nil, ae.WithDetail(path)
		}
		return nil, err
	}
	return out, nil
}

// Format renders inst back into the line format accepted by ParseLine.
func Format(inst *Instance) string {
	var sb strings.Builder
	for i, p := range inst.Coords {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatFloat(p.X, 'f', -1, 64))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(p.Y, 'f', -1, 64))
	}
	if inst.HasTour() {
		sb.WriteString(" " + tourMarker)
		for _, v := range inst.Tour {
			sb.WriteByte(' ')
			sb.WriteString(strconv.Itoa(v + 1))
		}
	}
	return sb.String()
}
