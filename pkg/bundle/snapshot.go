// Package bundle scans model bundle directories into content snapshots and
// verifies them against a lock manifest. The lock manifest pins every file's
// size and sha256 digest, so a bundle can be re-verified after it has been
// moved or copied between machines.
package bundle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/modelkit/diffusion-loader/pkg/files"
)

// Entry describes one file of a bundle.
type Entry struct {
	// Path is the file's path relative to the bundle root, with forward
	// slashes on all platforms.
	Path string `json:"path"`
	// Size is the file size in bytes.
	Size int64 `json:"size"`
	// Digest is the sha256 digest of the file contents.
	Digest digest.Digest `json:"digest"`
	// Type is the file classification (safetensors, config, ...).
	Type string `json:"type"`
}

// Snapshot is the content inventory of a bundle directory.
type Snapshot struct {
	// CreatedAt records when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`
	// Entries are the bundle files, sorted by path.
	Entries []Entry `json:"entries"`
}

// TotalSize returns the summed size of all entries.
func (s *Snapshot) TotalSize() int64 {
	var total int64
	for _, e := range s.Entries {
		total += e.Size
	}
	return total
}

// Scan walks a bundle directory and produces its snapshot. Hidden files and
// directories are skipped, as are symlinks.
func Scan(dir string) (*Snapshot, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	var entries []Entry
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("compute relative path: %w", err)
		}

		entry, err := scanFile(path, filepath.ToSlash(relPath))
		if err != nil {
			return err
		}
		entries = append(entries, entry)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return &Snapshot{
		CreatedAt: time.Now().UTC(),
		Entries:   entries,
	}, nil
}

func scanFile(path, relPath string) (Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return Entry{}, fmt.Errorf("open %s: %w", relPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", relPath, err)
	}

	dgst, err := digest.FromReader(file)
	if err != nil {
		return Entry{}, fmt.Errorf("digest %s: %w", relPath, err)
	}

	return Entry{
		Path:   relPath,
		Size:   info.Size(),
		Digest: dgst,
		Type:   files.Classify(relPath).String(),
	}, nil
}

// Diff is the result of comparing a bundle directory against a lock
// manifest.
type Diff struct {
	// Missing lists locked paths absent from the directory.
	Missing []string
	// Modified lists paths whose size or digest changed.
	Modified []string
	// Extra lists directory files the lock does not cover.
	Extra []string
}

// Clean reports whether the directory matches the lock exactly, ignoring
// extra files.
func (d Diff) Clean() bool {
	return len(d.Missing) == 0 && len(d.Modified) == 0
}

// Compare diffs the snapshot (taken from disk) against a lock snapshot.
func Compare(lock, current *Snapshot) Diff {
	locked := make(map[string]Entry, len(lock.Entries))
	for _, e := range lock.Entries {
		locked[e.Path] = e
	}
	present := make(map[string]Entry, len(current.Entries))
	for _, e := range current.Entries {
		present[e.Path] = e
	}

	var diff Diff
	for _, e := range lock.Entries {
		got, ok := present[e.Path]
		if !ok {
			diff.Missing = append(diff.Missing, e.Path)
			continue
		}
		if got.Size != e.Size || got.Digest != e.Digest {
			diff.Modified = append(diff.Modified, e.Path)
		}
	}
	for _, e := range current.Entries {
		if _, ok := locked[e.Path]; !ok {
			diff.Extra = append(diff.Extra, e.Path)
		}
	}

	sort.Strings(diff.Missing)
	sort.Strings(diff.Modified)
	sort.Strings(diff.Extra)
	return diff
}
