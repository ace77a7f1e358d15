package safetensors

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Index is a sharded-weight index file (*.safetensors.index.json). It maps
// tensor names to the shard file that stores them.
type Index struct {
	Metadata  IndexMetadata     `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

// IndexMetadata is the metadata section of an index file.
type IndexMetadata struct {
	TotalSize int64 `json:"total_size"`
}

// ParseIndex reads and parses a sharded-weight index file.
func ParseIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index file: %w", err)
	}
	if len(idx.WeightMap) == 0 {
		return nil, fmt.Errorf("index file %s has an empty weight map", path)
	}

	return &idx, nil
}

// ShardNames returns the sorted, de-duplicated shard filenames referenced by
// the weight map.
func (idx *Index) ShardNames() []string {
	seen := make(map[string]struct{})
	for _, shard := range idx.WeightMap {
		seen[shard] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reconcile verifies that the shard files present on disk are exactly the
// shards the index references. Extra files are tolerated; missing shards
// are an error.
func (idx *Index) Reconcile(present []string) error {
	onDisk := make(map[string]struct{}, len(present))
	for _, name := range present {
		onDisk[name] = struct{}{}
	}

	var missing []string
	for _, shard := range idx.ShardNames() {
		if _, ok := onDisk[shard]; !ok {
			missing = append(missing, shard)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("index references %d missing shard(s): %v", len(missing), missing)
	}
	return nil
}
