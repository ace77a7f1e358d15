package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelkit/diffusion-loader/internal/utils"
)

// ManifestFilename is the pipeline manifest filename inside a bundle
// directory.
const ManifestFilename = "model_index.json"

// Manifest metadata keys. All keys beginning with "_" are metadata, not
// components.
const (
	keyClassName = "_class_name"
	keyVersion   = "_diffusers_version"
)

// ComponentRef names the library and class implementing a component.
// A null reference (both fields empty) marks a component that is declared
// in the manifest but intentionally absent, e.g. a disabled safety checker.
type ComponentRef struct {
	Library string
	Class   string
}

// IsNull reports whether the reference is the null reference.
func (r ComponentRef) IsNull() bool {
	return r.Library == "" && r.Class == ""
}

func (r ComponentRef) String() string {
	if r.IsNull() {
		return "<null>"
	}
	return r.Library + "/" + r.Class
}

// ModelIndex is the parsed pipeline manifest. It describes the composite
// pipeline class and the named sub-components that make it up.
type ModelIndex struct {
	// ClassName is the pipeline class, e.g. "StableDiffusionPipeline".
	ClassName string
	// Version is the library version the bundle was serialized with.
	Version string
	// Components maps component names to their implementing class.
	Components map[string]ComponentRef
	// Extras holds manifest entries that are neither metadata keys nor
	// component references (e.g. boolean pipeline flags).
	Extras map[string]interface{}
}

// ComponentNames returns the sorted component names, including null entries.
func (m *ModelIndex) ComponentNames() []string {
	names := make([]string, 0, len(m.Components))
	for name := range m.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseManifest parses manifest JSON. The manifest is a flat object whose
// "_"-prefixed keys are metadata and whose two-element array values are
// [library, class] component references.
func ParseManifest(data []byte) (*ModelIndex, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	index := &ModelIndex{
		Components: make(map[string]ComponentRef),
		Extras:     make(map[string]interface{}),
	}

	for key, value := range raw {
		if strings.HasPrefix(key, "_") {
			var s string
			switch key {
			case keyClassName:
				if err := json.Unmarshal(value, &s); err != nil {
					return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidManifest, keyClassName)
				}
				index.ClassName = s
			case keyVersion:
				if err := json.Unmarshal(value, &s); err != nil {
					return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidManifest, keyVersion)
				}
				index.Version = s
			default:
				// Unknown metadata keys are preserved as extras.
				var v interface{}
				if err := json.Unmarshal(value, &v); err != nil {
					return nil, fmt.Errorf("%w: metadata key %q", ErrInvalidManifest, key)
				}
				index.Extras[key] = v
			}
			continue
		}

		ref, ok, err := parseComponentRef(key, value)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Scalar pipeline flags such as "requires_safety_checker".
			var v interface{}
			if err := json.Unmarshal(value, &v); err != nil {
				return nil, fmt.Errorf("%w: entry %q", ErrInvalidManifest, key)
			}
			index.Extras[key] = v
			continue
		}
		index.Components[key] = ref
	}

	if err := index.Validate(); err != nil {
		return nil, err
	}

	return index, nil
}

// parseComponentRef parses a [library, class] pair. Returns ok=false when
// the value is not an array (the entry is a pipeline flag, not a component).
func parseComponentRef(name string, value json.RawMessage) (ComponentRef, bool, error) {
	trimmed := strings.TrimSpace(string(value))
	if !strings.HasPrefix(trimmed, "[") {
		return ComponentRef{}, false, nil
	}

	var pair []*string
	if err := json.Unmarshal(value, &pair); err != nil {
		return ComponentRef{}, false, fmt.Errorf("%w: component %q: %v", ErrInvalidManifest, name, err)
	}
	if len(pair) != 2 {
		return ComponentRef{}, false, fmt.Errorf("%w: component %q must be a [library, class] pair, got %d element(s)",
			ErrInvalidManifest, name, len(pair))
	}

	// Both null means "declared but absent"; one null is malformed.
	if pair[0] == nil && pair[1] == nil {
		return ComponentRef{}, true, nil
	}
	if pair[0] == nil || pair[1] == nil {
		return ComponentRef{}, false, fmt.Errorf("%w: component %q has a partially null reference", ErrInvalidManifest, name)
	}
	if *pair[0] == "" || *pair[1] == "" {
		return ComponentRef{}, false, fmt.Errorf("%w: component %q has an empty library or class", ErrInvalidManifest, name)
	}

	return ComponentRef{Library: *pair[0], Class: *pair[1]}, true, nil
}

// LoadManifest reads and parses the manifest from a bundle directory.
// A missing manifest file yields ErrManifestNotFound, distinct from a
// malformed one.
func LoadManifest(dir string) (*ModelIndex, error) {
	path := filepath.Join(dir, ManifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Validate checks structural invariants of the manifest.
func (m *ModelIndex) Validate() error {
	if m.ClassName == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidManifest, keyClassName)
	}
	if len(m.Components) == 0 {
		return fmt.Errorf("%w: no components declared", ErrInvalidManifest)
	}
	for name := range m.Components {
		if err := validateComponentName(name); err != nil {
			return err
		}
	}
	return nil
}

// validateComponentName rejects component names that cannot safely map to a
// subfolder of the bundle directory.
func validateComponentName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty component name", ErrInvalidManifest)
	}
	if name == "." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: component name %q contains path separators", ErrInvalidManifest, utils.SanitizeForLog(name))
	}
	if name != filepath.Clean(name) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: component name %q is not a plain directory name", ErrInvalidManifest, utils.SanitizeForLog(name))
	}
	return nil
}

// MarshalJSON serializes the manifest back to its on-disk form.
func (m *ModelIndex) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Components)+len(m.Extras)+2)
	out[keyClassName] = m.ClassName
	if m.Version != "" {
		out[keyVersion] = m.Version
	}
	for k, v := range m.Extras {
		out[k] = v
	}
	for name, ref := range m.Components {
		if ref.IsNull() {
			out[name] = []interface{}{nil, nil}
		} else {
			out[name] = []string{ref.Library, ref.Class}
		}
	}
	return json.Marshal(out)
}
