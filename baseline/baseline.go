// Package baseline keeps one reference screenshot per checkpoint and
// compares fresh captures against it.
//
// Layout on disk:
//
//	<Dir>/<checkpoint>.png          the baseline
//	<DiffDir>/<checkpoint>.diff.png the last diff produced by Compare
//
// A checkpoint without a baseline is not an error: Compare reports
// Skipped so the first run of a suite always proceeds.
package baseline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hazyhaar/pagecheck/horosafe"
	"github.com/hazyhaar/pagecheck/imgdiff"
)

// Config configures a Store.
type Config struct {
	// Dir holds baseline PNGs. Required.
	Dir string
	// DiffDir receives diff artifacts. Default: Dir/diffs.
	DiffDir string
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.DiffDir == "" {
		c.DiffDir = filepath.Join(c.Dir, "diffs")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store reads and writes baselines under a single directory.
type Store struct {
	cfg Config
}

// New creates a Store. The directory is created lazily on first Save.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("baseline: Dir is required")
	}
	cfg.defaults()
	return &Store{cfg: cfg}, nil
}

// Dir returns the baseline directory.
func (s *Store) Dir() string { return s.cfg.Dir }

// Path returns the baseline file for checkpoint.
func (s *Store) Path(checkpoint string) (string, error) {
	return horosafe.NamedFile(s.cfg.Dir, checkpoint, ".png")
}

// Has reports whether a baseline exists for checkpoint.
func (s *Store) Has(checkpoint string) bool {
	p, err := s.Path(checkpoint)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Compare diffs the image at currentPath against the checkpoint baseline.
// Without a baseline the result is Skipped with a zero ratio.
func (s *Store) Compare(currentPath, checkpoint string) (imgdiff.Result, error) {
	ref, err := s.Path(checkpoint)
	if err != nil {
		return imgdiff.Result{}, err
	}
	if !s.Has(checkpoint) {
		s.cfg.Logger.Info("baseline: none yet, comparison skipped", "checkpoint", checkpoint)
		return imgdiff.Result{Skipped: true}, nil
	}

	diffPath, err := horosafe.NamedFile(s.cfg.DiffDir, checkpoint, ".diff.png")
	if err != nil {
		return imgdiff.Result{}, err
	}

	res, err := imgdiff.CompareFiles(currentPath, ref, diffPath)
	if err != nil {
		return imgdiff.Result{}, fmt.Errorf("baseline: compare %s: %w", checkpoint, err)
	}
	s.cfg.Logger.Info("baseline: compared",
		"checkpoint", checkpoint,
		"mismatch", res.MismatchRatio,
		"diff_pixels", res.DiffPixels,
		"size_mismatch", res.SizeMismatch,
		"diff_saved", res.DiffSaved)
	return res, nil
}

// Save copies the image at currentPath over the checkpoint baseline and
// returns the stored path. The write goes through a temp file and rename
// so a crash never leaves a truncated baseline.
func (s *Store) Save(currentPath, checkpoint string) (string, error) {
	dst, err := s.Path(checkpoint)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("baseline: mkdir: %w", err)
	}

	src, err := os.Open(currentPath)
	if err != nil {
		return "", fmt.Errorf("baseline: open current: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.cfg.Dir, "."+checkpoint+"-*.png")
	if err != nil {
		return "", fmt.Errorf("baseline: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("baseline: copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("baseline: close temp: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("baseline: rename: %w", err)
	}

	s.cfg.Logger.Info("baseline: saved", "checkpoint", checkpoint, "path", dst)
	return dst, nil
}
