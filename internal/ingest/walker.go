package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IntakeFunc runs one file's bytes through the pipeline and reports the
// outcome. The walker stays ignorant of pipeline internals.
type IntakeFunc func(ctx context.Context, fileName string, raw []byte) (IntakeResult, error)

// WalkDirectory walks root, skips hidden entries if requested, and feeds
// every matching image to fn. Returns per-file results plus aggregate stats.
func WalkDirectory(ctx context.Context, root string, skipHidden bool, fn IntakeFunc) ([]IntakeResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []IntakeResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IntakeResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		raw, err := os.ReadFile(path)
		if err != nil {
			results = append(results, IntakeResult{SourcePath: path, Err: err.Error()})
			stats.Failed++
			return nil
		}

		r, err := fn(ctx, filepath.Base(path), raw)
		r.SourcePath = path
		if err != nil {
			if r.Err == "" {
				r.Err = err.Error()
			}
			results = append(results, r)
			stats.Failed++
			return nil
		}

		results = append(results, r)
		stats.Succeeded++
		if r.Duplicated {
			stats.Duplicated++
		}
		return nil
	})
	if err != nil {
		return results, stats, err
	}
	return results, stats, nil
}
