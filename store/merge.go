package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Merge combines the raw per-variable stores under srcDir into one prebuilt
// store written to dstDir/name.zarr and returns its path. Every *.zarr entry
// in srcDir is opened concurrently; all must share an identical time axis.
// Merging is the one expensive step of module construction and runs exactly
// once, synchronously.
func Merge(ctx context.Context, srcDir, dstDir, name string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return "", fmt.Errorf("reading source directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), Ext) {
			paths = append(paths, filepath.Join(srcDir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no %s stores found in %q", Ext, srcDir)
	}
	sort.Strings(paths)

	logger.Info("merging raw stores", "count", len(paths), "src", srcDir, "dst", dstDir, "name", name)

	// Each goroutine writes its own slot, no locking needed.
	parts := make([]*Dataset, len(paths))
	g, _ := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			part, err := OpenZarr(p)
			if err != nil {
				return fmt.Errorf("opening raw store %q: %w", p, err)
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	merged := NewDataset(name, parts[0].Times)
	merged.Lat = parts[0].Lat
	merged.Lon = parts[0].Lon
	for _, part := range parts {
		if len(part.Times) > 0 {
			if len(part.Times) != len(merged.Times) {
				return "", fmt.Errorf("raw store %q has %d time steps, expected %d", part.Name, len(part.Times), len(merged.Times))
			}
			for i, t := range part.Times {
				if !t.Equal(merged.Times[i]) {
					return "", fmt.Errorf("raw store %q disagrees on time axis at step %d", part.Name, i)
				}
			}
		}
		for varName, a := range part.Vars {
			if _, exists := merged.Vars[varName]; exists {
				return "", fmt.Errorf("variable %q appears in more than one raw store", varName)
			}
			if err := merged.SetVar(varName, a); err != nil {
				return "", err
			}
		}
		for axis, names := range part.Coords {
			merged.Coords[axis] = names
		}
		if merged.Lat == nil {
			merged.Lat = part.Lat
		}
		if merged.Lon == nil {
			merged.Lon = part.Lon
		}
	}

	dst := filepath.Join(dstDir, name+Ext)
	if err := WriteZarr(dst, merged); err != nil {
		return "", fmt.Errorf("writing merged store: %w", err)
	}
	logger.Info("merged store written", "path", dst, "variables", len(merged.Vars), "time_steps", len(merged.Times))
	return dst, nil
}
