package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Minimal zarr v2 directory codec. A store is a group directory holding one
// subdirectory per array; each array carries a .zarray metadata document, a
// .zattrs document with the xarray _ARRAY_DIMENSIONS convention, and a
// single whole-array chunk compressed with zstd. Chunked layouts other than
// one chunk per array are not supported; this codec exists to persist merged
// training stores, not to interoperate with arbitrary zarr data.
//
// https://zarr.readthedocs.io/en/stable/spec/v2.html

const zarrFormat = 2

// Ext is the directory suffix for on-disk stores.
const Ext = ".zarr"

type zarrCompressor struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// zarrArrayMeta is the .zarray metadata document.
type zarrArrayMeta struct {
	Chunks     []int           `json:"chunks"`
	Compressor *zarrCompressor `json:"compressor"`
	Dtype      string          `json:"dtype"`
	FillValue  float64         `json:"fill_value"`
	Filters    json.RawMessage `json:"filters"`
	Order      string          `json:"order"`
	Shape      []int           `json:"shape"`
	ZarrFormat int             `json:"zarr_format"`
}

// zarrArrayAttrs is the per-array .zattrs document.
type zarrArrayAttrs struct {
	ArrayDimensions []string `json:"_ARRAY_DIMENSIONS"`
	Units           string   `json:"units,omitempty"`
}

// zarrGroupAttrs is the group-level .zattrs document. Channel-name
// coordinates are kept here because zarr string arrays are not worth the
// trouble for a handful of names.
type zarrGroupAttrs struct {
	Coords map[string][]string `json:"coords,omitempty"`
}

const timeUnits = "seconds since 1970-01-01T00:00:00Z"

// WriteZarr persists a dataset as a zarr group directory at path.
func WriteZarr(path string, ds *Dataset) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	if err := writeJSON(filepath.Join(path, ".zgroup"), map[string]int{"zarr_format": zarrFormat}); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(path, ".zattrs"), zarrGroupAttrs{Coords: ds.Coords}); err != nil {
		return err
	}

	// Time axis as a float64 seconds-since-epoch array.
	times := make([]float64, len(ds.Times))
	for i, t := range ds.Times {
		times[i] = float64(t.Unix())
	}
	if err := writeZarrArray(path, AxisTime, []string{AxisTime}, []int{len(times)}, nil, times); err != nil {
		return err
	}

	for name, a := range ds.Vars {
		if err := writeZarrArray(path, name, a.Axes, a.Dims, a.Data, nil); err != nil {
			return err
		}
	}
	if ds.Lat != nil {
		if err := writeZarrArray(path, "lat", ds.Lat.Axes, ds.Lat.Dims, ds.Lat.Data, nil); err != nil {
			return err
		}
	}
	if ds.Lon != nil {
		if err := writeZarrArray(path, "lon", ds.Lon.Axes, ds.Lon.Dims, ds.Lon.Data, nil); err != nil {
			return err
		}
	}
	return nil
}

// OpenZarr loads a zarr group directory written by WriteZarr.
func OpenZarr(path string) (*Dataset, error) {
	if _, err := os.Stat(filepath.Join(path, ".zgroup")); err != nil {
		return nil, fmt.Errorf("opening store %q: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), Ext)
	ds := NewDataset(name, nil)

	var groupAttrs zarrGroupAttrs
	if err := readJSON(filepath.Join(path, ".zattrs"), &groupAttrs); err == nil && groupAttrs.Coords != nil {
		ds.Coords = groupAttrs.Coords
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading store %q: %w", path, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		arrName := e.Name()
		axes, dims, f32, f64, err := readZarrArray(filepath.Join(path, arrName))
		if err != nil {
			return nil, fmt.Errorf("reading array %q: %w", arrName, err)
		}
		switch arrName {
		case AxisTime:
			ds.Times = make([]time.Time, len(f64))
			for i, v := range f64 {
				ds.Times[i] = time.Unix(int64(v), 0).UTC()
			}
		case "lat":
			ds.Lat = &Array{Axes: axes, Dims: dims, Data: f32}
		case "lon":
			ds.Lon = &Array{Axes: axes, Dims: dims, Data: f32}
		default:
			ds.Vars[arrName] = &Array{Axes: axes, Dims: dims, Data: f32}
		}
	}

	for varName, a := range ds.Vars {
		if len(a.Axes) > 0 && a.Axes[0] == AxisTime && a.Dims[0] != len(ds.Times) {
			return nil, fmt.Errorf("store %q: variable %q has %d time steps, time axis has %d",
				path, varName, a.Dims[0], len(ds.Times))
		}
	}
	return ds, nil
}

func writeZarrArray(groupPath, name string, axes []string, dims []int, f32 []float32, f64 []float64) error {
	dir := filepath.Join(groupPath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating array directory: %w", err)
	}

	dtype := "<f4"
	if f64 != nil {
		dtype = "<f8"
	}
	meta := zarrArrayMeta{
		Chunks:     dims,
		Compressor: &zarrCompressor{ID: "zstd", Level: 3},
		Dtype:      dtype,
		Filters:    json.RawMessage("null"),
		Order:      "C",
		Shape:      dims,
		ZarrFormat: zarrFormat,
	}
	if err := writeJSON(filepath.Join(dir, ".zarray"), meta); err != nil {
		return err
	}
	attrs := zarrArrayAttrs{ArrayDimensions: axes}
	if name == AxisTime {
		attrs.Units = timeUnits
	}
	if err := writeJSON(filepath.Join(dir, ".zattrs"), attrs); err != nil {
		return err
	}

	var raw bytes.Buffer
	if f64 != nil {
		for _, v := range f64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			raw.Write(b[:])
		}
	} else {
		for _, v := range f32 {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			raw.Write(b[:])
		}
	}

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := zw.Write(raw.Bytes()); err != nil {
		zw.Close()
		return fmt.Errorf("compressing chunk: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing chunk: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, chunkKey(len(dims))), compressed.Bytes(), 0o644)
}

func readZarrArray(dir string) (axes []string, dims []int, f32 []float32, f64 []float64, err error) {
	var meta zarrArrayMeta
	if err = readJSON(filepath.Join(dir, ".zarray"), &meta); err != nil {
		return nil, nil, nil, nil, err
	}
	if meta.ZarrFormat != zarrFormat {
		return nil, nil, nil, nil, fmt.Errorf("unsupported zarr format %d", meta.ZarrFormat)
	}
	for i, c := range meta.Chunks {
		if c != meta.Shape[i] {
			return nil, nil, nil, nil, fmt.Errorf("multi-chunk arrays are not supported (chunks %v, shape %v)", meta.Chunks, meta.Shape)
		}
	}
	if meta.Compressor == nil || meta.Compressor.ID != "zstd" {
		return nil, nil, nil, nil, fmt.Errorf("unsupported compressor %v", meta.Compressor)
	}

	var attrs zarrArrayAttrs
	if err = readJSON(filepath.Join(dir, ".zattrs"), &attrs); err != nil {
		return nil, nil, nil, nil, err
	}

	compressed, err := os.ReadFile(filepath.Join(dir, chunkKey(len(meta.Shape))))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	zr, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("decompressing chunk: %w", err)
	}

	size := 1
	for _, d := range meta.Shape {
		size *= d
	}
	switch meta.Dtype {
	case "<f4":
		if len(raw) != size*4 {
			return nil, nil, nil, nil, fmt.Errorf("chunk size %d does not match shape %v", len(raw), meta.Shape)
		}
		f32 = make([]float32, size)
		for i := range f32 {
			f32[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "<f8":
		if len(raw) != size*8 {
			return nil, nil, nil, nil, fmt.Errorf("chunk size %d does not match shape %v", len(raw), meta.Shape)
		}
		f64 = make([]float64, size)
		for i := range f64 {
			f64[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	default:
		return nil, nil, nil, nil, fmt.Errorf("unsupported dtype %q", meta.Dtype)
	}
	return attrs.ArrayDimensions, meta.Shape, f32, f64, nil
}

// chunkKey builds the key of the single whole-array chunk, e.g. "0.0.0".
func chunkKey(rank int) string {
	if rank == 0 {
		return "0"
	}
	parts := make([]string, rank)
	for i := range parts {
		parts[i] = "0"
	}
	return strings.Join(parts, ".")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return nil
}
