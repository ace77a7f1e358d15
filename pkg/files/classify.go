// Package files provides utilities for classifying model bundle files.
// This package consolidates file classification logic used across the loader.
package files

import (
	"path/filepath"
	"strings"
)

// FileType represents the type of a file found inside a model bundle
type FileType int

const (
	// FileTypeUnknown is an unrecognized file type
	FileTypeUnknown FileType = iota
	// FileTypeSafetensors is a safetensors weight file
	FileTypeSafetensors
	// FileTypeGGUF is a GGUF weight file
	FileTypeGGUF
	// FileTypeBin is a legacy pickled weight file (.bin)
	FileTypeBin
	// FileTypeWeightIndex is a sharded-weight index file (*.index.json,
	// possibly with a variant segment, e.g. *.index.fp16.json)
	FileTypeWeightIndex
	// FileTypeConfig is a component configuration file
	FileTypeConfig
	// FileTypeTokenizerAsset is a tokenizer vocabulary or merges file
	FileTypeTokenizerAsset
	// FileTypeLicense is a license file
	FileTypeLicense
)

// String returns a string representation of the file type
func (ft FileType) String() string {
	switch ft {
	case FileTypeSafetensors:
		return "safetensors"
	case FileTypeGGUF:
		return "gguf"
	case FileTypeBin:
		return "bin"
	case FileTypeWeightIndex:
		return "weight_index"
	case FileTypeConfig:
		return "config"
	case FileTypeTokenizerAsset:
		return "tokenizer_asset"
	case FileTypeLicense:
		return "license"
	case FileTypeUnknown:
		return "unknown"
	}
	return "unknown"
}

// IsWeight reports whether the file type carries model weights.
func (ft FileType) IsWeight() bool {
	switch ft {
	case FileTypeSafetensors, FileTypeGGUF, FileTypeBin:
		return true
	case FileTypeWeightIndex, FileTypeConfig, FileTypeTokenizerAsset, FileTypeLicense, FileTypeUnknown:
		return false
	}
	return false
}

var (
	// ConfigFilenames are the component configuration filenames recognized
	// inside component subfolders.
	ConfigFilenames = []string{
		"config.json",
		"scheduler_config.json",
		"tokenizer_config.json",
		"preprocessor_config.json",
		"special_tokens_map.json",
		"generation_config.json",
	}

	// TokenizerAssetFilenames are tokenizer data files that accompany a
	// tokenizer component but are not configuration.
	TokenizerAssetFilenames = []string{
		"tokenizer.json",
		"tokenizer.model",
		"vocab.json",
		"vocab.txt",
		"merges.txt",
		"spiece.model",
		"added_tokens.json",
	}

	// LicensePatterns defines patterns for license files (case-insensitive)
	LicensePatterns = []string{"license", "licence", "copying", "notice"}
)

// weightIndexSuffix terminates sharded-weight index filenames. A variant
// segment may sit between ".index" and ".json".
const (
	weightIndexMarker = ".index."
	weightIndexSuffix = ".json"
)

// Classify determines the file type based on the filename.
// It examines the file extension and name patterns to classify the file.
func Classify(path string) FileType {
	filename := filepath.Base(path)
	lower := strings.ToLower(filename)

	if strings.HasSuffix(lower, ".safetensors") {
		return FileTypeSafetensors
	}
	if strings.HasSuffix(lower, ".gguf") {
		return FileTypeGGUF
	}
	if strings.HasSuffix(lower, ".bin") {
		return FileTypeBin
	}

	// Weight index files: <base>.<ext>.index.json or
	// <base>.<ext>.index.<variant>.json
	if strings.Contains(lower, weightIndexMarker) && strings.HasSuffix(lower, weightIndexSuffix) {
		return FileTypeWeightIndex
	}

	for _, name := range TokenizerAssetFilenames {
		if strings.EqualFold(filename, name) {
			return FileTypeTokenizerAsset
		}
	}

	for _, name := range ConfigFilenames {
		if strings.EqualFold(filename, name) {
			return FileTypeConfig
		}
	}

	for _, pattern := range LicensePatterns {
		if strings.Contains(lower, pattern) {
			return FileTypeLicense
		}
	}

	return FileTypeUnknown
}
