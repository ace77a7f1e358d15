// Package pipeline loads multi-component diffusion model bundles from a
// directory manifest. A bundle directory holds a model_index.json manifest
// plus one subfolder per component; the loader resolves each component's
// config and weight files (honoring a requested checkpoint variant),
// instantiates the components and assembles them into a Pipeline.
package pipeline

import (
	"fmt"
	"sort"

	"github.com/modelkit/diffusion-loader/pkg/logging"
)

// Pipeline is an assembled multi-component model.
type Pipeline struct {
	dir        string
	index      *ModelIndex
	components map[string]Component
	log        logging.Logger
}

// Dir returns the bundle directory the pipeline was loaded from.
func (p *Pipeline) Dir() string {
	return p.dir
}

// ClassName returns the pipeline class from the manifest.
func (p *Pipeline) ClassName() string {
	return p.index.ClassName
}

// Manifest returns the parsed bundle manifest.
func (p *Pipeline) Manifest() *ModelIndex {
	return p.index
}

// Component returns the named component.
func (p *Pipeline) Component(name string) (Component, bool) {
	c, ok := p.components[name]
	return c, ok
}

// Components returns a copy of the component table.
func (p *Pipeline) Components() map[string]Component {
	out := make(map[string]Component, len(p.components))
	for name, c := range p.components {
		out[name] = c
	}
	return out
}

// Names returns the sorted names of the assembled components.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.components))
	for name := range p.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Swap replaces the named component with a caller-supplied one. When either
// the current or the replacement component is a scheduler, the two classes
// must belong to the same compatibility set.
func (p *Pipeline) Swap(name string, replacement Component) error {
	current, ok := p.components[name]
	if !ok {
		return fmt.Errorf("%w: %q is not part of this pipeline", ErrComponentNotFound, name)
	}

	oldClass := current.Ref().Class
	newClass := replacement.Ref().Class
	if IsSchedulerClass(oldClass) || IsSchedulerClass(newClass) {
		if !CompatibleSchedulers(oldClass, newClass) {
			return fmt.Errorf("%w: cannot replace %s with %s", ErrIncompatibleScheduler, oldClass, newClass)
		}
	}

	p.log.WithFields(map[string]interface{}{
		"component": name,
		"from":      current.Ref().String(),
		"to":        replacement.Ref().String(),
	}).Info("swapped pipeline component")

	p.components[name] = replacement
	return nil
}
