package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
)

// LockFilename is the lock manifest filename inside a bundle directory.
const LockFilename = "bundle.lock.json"

// WriteLock writes the snapshot as the bundle's lock manifest. The write is
// atomic: a torn write never leaves a half-written lock behind.
func WriteLock(dir string, snapshot *Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}
	if err := atomicwriter.WriteFile(filepath.Join(dir, LockFilename), data, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}
	return nil
}

// ReadLock reads the bundle's lock manifest. Entry paths are validated to
// stay within the bundle directory.
func ReadLock(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFilename))
	if err != nil {
		return nil, fmt.Errorf("read lock manifest: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse lock manifest: %w", err)
	}

	for _, e := range snapshot.Entries {
		if err := validateEntryPath(e.Path); err != nil {
			return nil, err
		}
		if err := e.Digest.Validate(); err != nil {
			return nil, fmt.Errorf("lock entry %q: invalid digest: %w", e.Path, err)
		}
	}

	return &snapshot, nil
}

// validateEntryPath rejects lock entry paths that would escape the bundle
// directory.
func validateEntryPath(path string) error {
	if path == "" {
		return fmt.Errorf("lock entry with empty path")
	}
	native := filepath.FromSlash(path)
	if filepath.IsAbs(native) || !filepath.IsLocal(native) {
		return fmt.Errorf("lock entry %q escapes the bundle directory", path)
	}
	return nil
}

// Verify rescans the directory and compares it against its lock manifest.
// The lock file itself is excluded from the comparison.
func Verify(dir string) (Diff, error) {
	lock, err := ReadLock(dir)
	if err != nil {
		return Diff{}, err
	}

	current, err := Scan(dir)
	if err != nil {
		return Diff{}, err
	}

	// Drop the lock manifest from the scan; it describes the bundle, it is
	// not part of it.
	filtered := current.Entries[:0]
	for _, e := range current.Entries {
		if e.Path == LockFilename {
			continue
		}
		filtered = append(filtered, e)
	}
	current.Entries = filtered

	return Compare(lock, current), nil
}
