package trajectory

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/quenchlab/facet/core/errs"
)

// ReadXYZ parses an extended-XYZ frame: a particle count line, a box line
// that is either a Lattice="..." header (diagonal elements used) or three
// bare floats, then one "<element> <x> <y> <z>" line per particle. Malformed
// counts, boxes, or coordinate lines yield ErrData.
func ReadXYZ(path, pbc string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		return nil, dataErr(path, "missing particle count line")
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || n < 0 {
		return nil, dataErr(path, "bad particle count %q", sc.Text())
	}

	if !sc.Scan() {
		return nil, dataErr(path, "missing box line")
	}
	box, err := parseBoxLine(sc.Text())
	if err != nil {
		return nil, dataErr(path, "%v", err)
	}

	xyz := make([]Vec3, 0, n)
	for i := 0; i < n; i++ {
		if !sc.Scan() {
			return nil, dataErr(path, "expected %d particles, found %d", n, i)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			return nil, dataErr(path, "short particle line %d", i)
		}
		var p Vec3
		for d := 0; d < 3; d++ {
			v, err := strconv.ParseFloat(fields[d+1], 64)
			if err != nil {
				return nil, dataErr(path, "bad coordinate on particle line %d", i)
			}
			p[d] = v
		}
		xyz = append(xyz, p)
	}
	return NewFrame(xyz, box, pbc)
}

// parseBoxLine accepts a Lattice header, taking the diagonal of the 3x3 cell
// matrix, or a plain line of three box extents.
func parseBoxLine(line string) (Vec3, error) {
	var box Vec3
	if strings.Contains(line, "Lattice=") {
		trimmed := strings.ReplaceAll(line, "Lattice=", "")
		trimmed = strings.ReplaceAll(trimmed, `"`, "")
		fields := strings.Fields(trimmed)
		if len(fields) < 9 {
			return box, fmt.Errorf("lattice header has %d elements, want 9", len(fields))
		}
		for d := 0; d < 3; d++ {
			v, err := strconv.ParseFloat(fields[4*d], 64)
			if err != nil {
				return box, fmt.Errorf("bad lattice element %q", fields[4*d])
			}
			box[d] = v
		}
		return box, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return box, fmt.Errorf("unexpected box format %q", strings.TrimSpace(line))
	}
	for d, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return box, fmt.Errorf("bad box extent %q", field)
		}
		box[d] = v
	}
	return box, nil
}

// WriteXYZ writes the frame in extended-XYZ form with a diagonal lattice
// header, one placeholder element per particle.
func WriteXYZ(path string, f *Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "%d\n", f.N)
	fmt.Fprintf(w, "Lattice=\"%g 0 0 0 %g 0 0 0 %g\"\n", f.Box[0], f.Box[1], f.Box[2])
	for _, p := range f.XYZ {
		fmt.Fprintf(w, "X %g %g %g\n", p[0], p[1], p[2])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func dataErr(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", errs.ErrData, path, fmt.Sprintf(format, args...))
}
