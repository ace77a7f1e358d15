package pipeline

import (
	"errors"

	"github.com/modelkit/diffusion-loader/pkg/variant"
)

var (
	// ErrManifestNotFound indicates the bundle directory has no manifest.
	ErrManifestNotFound = errors.New("pipeline manifest not found")
	// ErrInvalidManifest indicates the manifest is present but malformed.
	ErrInvalidManifest = errors.New("invalid pipeline manifest")
	// ErrComponentNotFound indicates a component named by the manifest (or
	// by a caller) has no corresponding subfolder or pipeline entry.
	ErrComponentNotFound = errors.New("component not found")
	// ErrIncompatibleScheduler indicates a scheduler swap between classes
	// that are not interchangeable.
	ErrIncompatibleScheduler = errors.New("incompatible scheduler class")

	// ErrVariantNotAvailable is re-exported from the variant package.
	ErrVariantNotAvailable = variant.ErrVariantNotAvailable
	// ErrNoWeights is re-exported from the variant package.
	ErrNoWeights = variant.ErrNoWeights
	// ErrIncompleteShards is re-exported from the variant package.
	ErrIncompleteShards = variant.ErrIncompleteShards
)
