package signature

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/x448/float16"

	"github.com/quenchlab/facet/core/errs"
)

// Library archives use a versioned msgpack layout instead of an opaque object
// graph so independent tooling can read them. Descriptors may be stored at
// half precision to shrink large libraries; counts and keys are always exact.
const (
	archiveMagic   = "FACETLIB"
	archiveVersion = 1

	PrecisionFull = "float64"
	PrecisionHalf = "float16"
)

type archiveEntry struct {
	Key         string    `msgpack:"key"`
	Descriptor  []float64 `msgpack:"descriptor,omitempty"`
	Half        []uint16  `msgpack:"half,omitempty"`
	Count       int       `msgpack:"count"`
	ClusterSize int       `msgpack:"cluster_size"`
}

type archiveDoc struct {
	Magic     string         `msgpack:"magic"`
	Version   int            `msgpack:"version"`
	Origin    string         `msgpack:"origin"`
	Dim       int            `msgpack:"dim"`
	Precision string         `msgpack:"precision"`
	Entries   []archiveEntry `msgpack:"entries"`
}

// Save writes the library to path. Precision is PrecisionFull or
// PrecisionHalf; half precision rounds each descriptor component to the
// nearest representable float16.
func (l *Library) Save(path, precision string) error {
	if precision != PrecisionFull && precision != PrecisionHalf {
		return fmt.Errorf("%w: unknown archive precision %q", errs.ErrConfiguration, precision)
	}
	doc := archiveDoc{
		Magic:     archiveMagic,
		Version:   archiveVersion,
		Origin:    l.origin.String(),
		Dim:       l.dim,
		Precision: precision,
		Entries:   make([]archiveEntry, 0, len(l.order)),
	}
	for _, key := range l.order {
		s := l.items[key]
		e := archiveEntry{Key: s.Key, Count: s.Count, ClusterSize: s.ClusterSize}
		if precision == PrecisionHalf {
			e.Half = make([]uint16, len(s.Descriptor))
			for i, v := range s.Descriptor {
				e.Half[i] = float16.Fromfloat32(float32(v)).Bits()
			}
		} else {
			e.Descriptor = append([]float64(nil), s.Descriptor...)
		}
		doc.Entries = append(doc.Entries, e)
	}
	data, err := msgpack.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode library archive: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write library archive: %w", err)
	}
	return nil
}

// Load reads a library archive written by Save. The dense index order of the
// archive is preserved.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read library archive: %w", err)
	}
	var doc archiveDoc
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: not a library archive: %v", errs.ErrData, err)
	}
	if doc.Magic != archiveMagic {
		return nil, fmt.Errorf("%w: bad archive magic %q", errs.ErrData, doc.Magic)
	}
	if doc.Version != archiveVersion {
		return nil, fmt.Errorf("%w: unsupported archive version %d", errs.ErrData, doc.Version)
	}

	lib := NewLibrary()
	if origin, err := uuid.Parse(doc.Origin); err == nil {
		lib.origin = origin
	}
	for _, e := range doc.Entries {
		desc := e.Descriptor
		if doc.Precision == PrecisionHalf {
			desc = make([]float64, len(e.Half))
			for i, b := range e.Half {
				desc[i] = float64(float16.Frombits(b).Float32())
			}
		}
		if err := lib.Add(e.Key, desc, e.Count, e.ClusterSize); err != nil {
			return nil, err
		}
	}
	return lib, nil
}
