package svgm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// FileHandle is the durable storage this group's index lives in: a single
// growing file, periodically superseded by a new ".N" suffixed file during
// compaction (spec.md §6 "File layout").
type FileHandle interface {
	// AppendHeader writes rec (the output of EncodeHeader) at the current
	// end of the file.
	AppendHeader(rec []byte) error
	// Sync fsyncs the file; used for a commit, skipped for a checkpoint.
	Sync() error
	// Rename atomically replaces this file with newPath, used once
	// compaction finishes writing the replacement file.
	Rename(newPath string) error
	// Truncate cuts the file to offset bytes, discarding everything after
	// it; the caller supplies the offset (for a torn write, the end of the
	// most recent valid header).
	Truncate(offset int64) error
	Delete() error
	Path() string
}

// osFileHandle is the default FileHandle, an *os.File guarded by an
// advisory file lock so two processes never write the same group's file
// concurrently.
type osFileHandle struct {
	f    *os.File
	lock *flock.Flock
	path string
}

// OpenFile opens (creating if absent) the file at path and takes an
// exclusive advisory lock on it, returning ErrTooManyOpenFiles verbatim
// when the OS refuses the open for resource-exhaustion reasons.
func OpenFile(path string) (FileHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		if isTooManyOpenFiles(err) {
			return nil, ErrTooManyOpenFiles
		}
		return nil, fmt.Errorf("svgm: open %s: %w", path, err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("svgm: lock %s: %w", path, err)
	}
	if !locked {
		f.Close()
		return nil, fmt.Errorf("svgm: %s is already locked by another process", path)
	}
	return &osFileHandle{f: f, lock: lock, path: path}, nil
}

func isTooManyOpenFiles(err error) bool {
	return strings.Contains(err.Error(), "too many open files")
}

func (h *osFileHandle) AppendHeader(rec []byte) error {
	if _, err := h.f.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	_, err := h.f.Write(rec)
	return err
}

func (h *osFileHandle) Sync() error { return h.f.Sync() }

func (h *osFileHandle) Truncate(offset int64) error { return h.f.Truncate(offset) }

func (h *osFileHandle) Rename(newPath string) error {
	if err := h.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(newPath, h.path); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	h.f = f
	return nil
}

func (h *osFileHandle) Delete() error {
	_ = h.lock.Unlock()
	_ = os.Remove(h.lock.Path())
	if err := h.f.Close(); err != nil {
		return err
	}
	return os.Remove(h.path)
}

func (h *osFileHandle) Path() string { return h.path }

// CurrentFile finds the highest-numbered "<base>.N" file in dir, the one a
// fresh controller should open (spec.md §6, monotonic suffixing: a
// compaction never reuses or decrements the suffix). It returns base+".0"
// if no suffixed file exists yet.
func CurrentFile(dir, base string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Join(dir, base+".0"), nil
		}
		return "", err
	}
	prefix := base + "."
	best := -1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return filepath.Join(dir, base+".0"), nil
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%d", base, best)), nil
}

// NextSuffix returns the path one greater than current's suffix, the name
// a compaction writes its replacement file under.
func NextSuffix(current string) (string, error) {
	dir, name := filepath.Split(current)
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", fmt.Errorf("svgm: %q has no numeric suffix", name)
	}
	base, suffix := name[:idx], name[idx+1:]
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return "", fmt.Errorf("svgm: %q has a non-numeric suffix: %w", name, err)
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%d", base, n+1)), nil
}

// staleSuffixedFiles returns every "<base>.N" file in dir other than keep,
// sorted ascending, the set a successful compaction should delete.
func staleSuffixedFiles(dir, base, keep string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := base + "."
	var stale []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		full := filepath.Join(dir, name)
		if full == keep {
			continue
		}
		stale = append(stale, full)
	}
	sort.Strings(stale)
	return stale, nil
}
