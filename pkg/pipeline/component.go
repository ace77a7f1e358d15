package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/modelkit/diffusion-loader/pkg/format"
	"github.com/modelkit/diffusion-loader/pkg/variant"
)

// Component is an instantiated pipeline sub-component.
type Component interface {
	// Name is the component's slot name in the pipeline (e.g. "unet").
	Name() string
	// Ref is the implementing library/class reference.
	Ref() ComponentRef
}

// ComponentSpec is everything the loader resolved for one component before
// instantiation: its location, configuration and selected weight files.
type ComponentSpec struct {
	// Name is the component's slot name.
	Name string
	// Ref is the manifest's library/class reference.
	Ref ComponentRef
	// Dir is the absolute path of the component subfolder.
	Dir string
	// ConfigPath is the absolute path of the component config file, empty
	// when the subfolder has none.
	ConfigPath string
	// Selection records the weight selection outcome. Zero-valued for
	// weightless components such as tokenizers.
	Selection variant.Selection
	// WeightPaths are the absolute paths of the selected weight files, in
	// shard order.
	WeightPaths []string
	// WeightConfig holds metadata extracted from the weight files.
	WeightConfig format.Config
}

// HasWeights reports whether any weight files were selected.
func (s ComponentSpec) HasWeights() bool {
	return len(s.WeightPaths) > 0
}

// Config reads and unmarshals the component config file into v.
func (s ComponentSpec) Config(v interface{}) error {
	if s.ConfigPath == "" {
		return fmt.Errorf("component %q has no config file", s.Name)
	}
	data, err := os.ReadFile(s.ConfigPath)
	if err != nil {
		return fmt.Errorf("read component config: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse component config: %w", err)
	}
	return nil
}

// Factory instantiates a component from its resolved spec.
type Factory func(spec ComponentSpec) (Component, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[ComponentRef]Factory)
)

// RegisterFactory installs a factory for a specific library/class pair.
// Components without a registered factory are built by the generic factory.
func RegisterFactory(library, class string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[ComponentRef{Library: library, Class: class}] = f
}

// factoryFor returns the factory for the given reference, falling back to
// the generic factory.
func factoryFor(ref ComponentRef) Factory {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	if f, ok := factories[ref]; ok {
		return f
	}
	if IsSchedulerClass(ref.Class) {
		return newSchedulerComponent
	}
	return newGenericComponent
}

// GenericComponent is the default component implementation: a handle over
// the resolved spec, with no class-specific behavior.
type GenericComponent struct {
	spec ComponentSpec
}

func newGenericComponent(spec ComponentSpec) (Component, error) {
	return &GenericComponent{spec: spec}, nil
}

// Name implements Component.Name.
func (c *GenericComponent) Name() string {
	return c.spec.Name
}

// Ref implements Component.Ref.
func (c *GenericComponent) Ref() ComponentRef {
	return c.spec.Ref
}

// Spec returns the resolved spec the component was built from.
func (c *GenericComponent) Spec() ComponentSpec {
	return c.spec
}

// WeightPaths returns the absolute paths of the component's weight files.
func (c *GenericComponent) WeightPaths() []string {
	return c.spec.WeightPaths
}
