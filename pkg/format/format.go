// Package format provides a unified interface for handling different weight
// file formats. It uses the Strategy pattern to encapsulate format-specific
// behavior while providing a common interface for shard discovery and
// metadata extraction.
package format

import (
	"fmt"

	"github.com/modelkit/diffusion-loader/internal/utils"
	"github.com/modelkit/diffusion-loader/pkg/files"
)

// Name identifies a weight file format.
type Name string

const (
	// Safetensors is the safetensors weight format.
	Safetensors = Name("safetensors")
	// GGUF is the GGUF weight format.
	GGUF = Name("gguf")
)

// Config holds metadata extracted from weight files.
type Config struct {
	// Format is the weight format the metadata was extracted from.
	Format Name `json:"format"`
	// Architecture is the model architecture, when the format exposes it.
	Architecture string `json:"architecture,omitempty"`
	// Parameters is a human-readable parameter count (e.g. "861.46M").
	Parameters string `json:"parameters,omitempty"`
	// Quantization is the tensor dtype summary (e.g. "F16", "mixed").
	Quantization string `json:"quantization,omitempty"`
	// Size is the human-readable total size of the weight files.
	Size string `json:"size,omitempty"`
	// Metadata carries format-specific key/value metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Format defines the interface for format-specific operations.
type Format interface {
	// Name returns the format identifier.
	Name() Name

	// DiscoverShards finds all shard files for a sharded weight set given a
	// starting path. For single-file weights, it returns a slice containing
	// only the input path. Returns an error if shards are incomplete.
	DiscoverShards(path string) ([]string, error)

	// ExtractConfig parses the weight files and extracts metadata such as
	// parameter count, quantization and architecture.
	ExtractConfig(paths []string) (Config, error)
}

// registry holds all registered format implementations
var registry = make(map[Name]Format)

// Register adds a format implementation to the global registry.
// This should be called in init() functions by format implementations.
func Register(f Format) {
	registry[f.Name()] = f
}

// Get returns the format implementation for the given format name.
// Returns an error if the format is not registered.
func Get(name Name) (Format, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown format: %s", name)
	}
	return f, nil
}

// DetectFromPath determines the weight format based on file extension.
// Returns the appropriate Format implementation or an error if unrecognized.
func DetectFromPath(path string) (Format, error) {
	switch files.Classify(path) {
	case files.FileTypeSafetensors:
		return Get(Safetensors)
	case files.FileTypeGGUF:
		return Get(GGUF)
	default:
		return nil, fmt.Errorf("unable to detect format from path: %s", utils.SanitizeForLog(path))
	}
}
