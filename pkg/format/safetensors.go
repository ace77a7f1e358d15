package format

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/docker/go-units"
	"github.com/modelkit/diffusion-loader/pkg/safetensors"
	"github.com/modelkit/diffusion-loader/pkg/variant"
)

// SafetensorsFormat implements the Format interface for safetensors files.
type SafetensorsFormat struct{}

// init registers the safetensors format implementation.
func init() {
	Register(&SafetensorsFormat{})
}

// Name returns the format identifier for safetensors.
func (s *SafetensorsFormat) Name() Name {
	return Safetensors
}

// DiscoverShards finds all safetensors shard files for a sharded weight set.
// Shards follow the pattern <base>-00001-of-00003.safetensors, with an
// optional variant label before the shard suffix. For single-file weights,
// returns a slice containing only the input path.
func (s *SafetensorsFormat) DiscoverShards(path string) ([]string, error) {
	wf, ok := variant.ParseWeightFile(filepath.Base(path))
	if !ok || !wf.IsSharded() {
		return []string{path}, nil
	}

	dir := filepath.Dir(path)
	stem := wf.Base
	if wf.Variant != "" {
		stem = wf.Base + "." + wf.Variant
	}

	var shards []string
	for i := 1; i <= wf.Shard.Total; i++ {
		shardName := fmt.Sprintf("%s-%05d-of-%05d.safetensors", stem, i, wf.Shard.Total)
		shardPath := filepath.Join(dir, shardName)
		if _, err := os.Stat(shardPath); err == nil {
			shards = append(shards, shardPath)
		}
	}

	if len(shards) != wf.Shard.Total {
		return nil, fmt.Errorf("incomplete shard set: found %d of %d shards for %s",
			len(shards), wf.Shard.Total, filepath.Base(path))
	}

	sort.Strings(shards)

	return shards, nil
}

// ExtractConfig parses safetensors file(s) and extracts metadata.
func (s *SafetensorsFormat) ExtractConfig(paths []string) (Config, error) {
	if len(paths) == 0 {
		return Config{Format: Safetensors}, nil
	}

	header, err := safetensors.ParseHeader(paths[0])
	if err != nil {
		// Continue without metadata if parsing fails
		return Config{Format: Safetensors}, nil
	}

	var totalSize int64
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to stat file %s: %w", path, err)
		}
		totalSize += info.Size()
	}

	architecture := ""
	if arch, ok := header.Metadata["architecture"]; ok {
		architecture = fmt.Sprintf("%v", arch)
	}

	return Config{
		Format:       Safetensors,
		Parameters:   formatParameters(header.Parameters()),
		Quantization: header.Quantization(),
		Size:         formatSize(totalSize),
		Architecture: architecture,
		Metadata:     header.StringMetadata(),
	}, nil
}

// formatParameters converts parameter count to human-readable format
// Returns format like "361.82M" or "1.5B" (no space before unit, base 1000, where B = Billion)
func formatParameters(params int64) string {
	return units.CustomSize("%.2f%s", float64(params), 1000.0, []string{"", "K", "M", "B", "T"})
}

// formatSize converts bytes to human-readable format matching Docker's style
// Returns format like "256MB" (decimal units, no space)
func formatSize(bytes int64) string {
	return units.CustomSize("%.2f%s", float64(bytes), 1000.0, []string{"B", "kB", "MB", "GB", "TB", "PB", "EB"})
}
