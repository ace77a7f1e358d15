package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/modelkit/diffusion-loader/pkg/files"
	"github.com/modelkit/diffusion-loader/pkg/format"
	"github.com/modelkit/diffusion-loader/pkg/logging"
	"github.com/modelkit/diffusion-loader/pkg/safetensors"
	"github.com/modelkit/diffusion-loader/pkg/variant"
)

// Loader resolves and assembles pipelines from bundle directories.
type Loader struct {
	log logging.Logger
}

// NewLoader creates a Loader with the given logger.
func NewLoader(log logging.Logger) *Loader {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Loader{log: log}
}

// FromDirectory loads the pipeline described by dir's manifest.
//
// Components are resolved concurrently; resolution stops at the first error.
// Caller overrides (WithComponent) are used as-is and never touched on disk;
// dropped slots (WithoutComponent) are absent from the result. Null manifest
// entries ([null, null]) are skipped without error.
func (l *Loader) FromDirectory(ctx context.Context, dir string, opts ...LoadOption) (*Pipeline, error) {
	o := newLoadOptions(opts)

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve bundle directory: %w", err)
	}

	index, err := LoadManifest(absDir)
	if err != nil {
		return nil, err
	}

	// Overrides and drops must name declared components; a typo here
	// should fail loudly, not silently load the on-disk component.
	for name := range o.overrides {
		if _, ok := index.Components[name]; !ok {
			return nil, fmt.Errorf("%w: override %q is not declared in the manifest", ErrComponentNotFound, name)
		}
	}
	for name := range o.drops {
		if _, ok := index.Components[name]; !ok {
			return nil, fmt.Errorf("%w: cannot drop %q, not declared in the manifest", ErrComponentNotFound, name)
		}
	}

	var toResolve []string
	for _, name := range index.ComponentNames() {
		ref := index.Components[name]
		if ref.IsNull() {
			l.log.WithField("component", name).Debug("skipping null component")
			continue
		}
		if _, ok := o.drops[name]; ok {
			l.log.WithField("component", name).Debug("dropping component")
			continue
		}
		if _, ok := o.overrides[name]; ok {
			continue
		}
		toResolve = append(toResolve, name)
	}

	components := make(map[string]Component, len(index.Components))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if o.maxConcurrency > 0 {
		g.SetLimit(o.maxConcurrency)
	}
	for _, name := range toResolve {
		g.Go(func() error {
			c, err := l.resolveComponent(gctx, absDir, name, index.Components[name], o)
			if err != nil {
				return err
			}
			mu.Lock()
			components[name] = c
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for name, c := range o.overrides {
		components[name] = c
	}

	l.log.WithFields(map[string]interface{}{
		"pipeline":   index.ClassName,
		"components": len(components),
		"variant":    o.variant,
	}).Info("assembled pipeline")

	return &Pipeline{
		dir:        absDir,
		index:      index,
		components: components,
		log:        l.log,
	}, nil
}

// resolveComponent locates a component's subfolder, picks its config file
// and weight set, and instantiates it through the factory registry.
func (l *Loader) resolveComponent(ctx context.Context, dir, name string, ref ComponentRef, o loadOptions) (Component, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	subdir := filepath.Join(dir, name)
	entries, err := os.ReadDir(subdir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q (%s) has no subfolder in %s", ErrComponentNotFound, name, ref, dir)
		}
		return nil, fmt.Errorf("read component folder %q: %w", name, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}

	spec := ComponentSpec{
		Name:       name,
		Ref:        ref,
		Dir:        subdir,
		ConfigPath: pickConfigFile(subdir, names),
	}

	weights := variant.ParseAll(names)
	if len(weights) > 0 {
		sel, err := variant.Select(weights, o.variant, variant.Options{
			Strict:          o.strictVariant,
			SafetensorsOnly: o.safetensorsOnly,
		})
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", name, err)
		}
		if sel.FellBack {
			l.log.WithFields(map[string]interface{}{
				"component": name,
				"variant":   o.variant,
			}).Warn("requested variant not available, falling back to default checkpoint")
		}

		spec.Selection = sel
		for _, f := range sel.Files {
			spec.WeightPaths = append(spec.WeightPaths, filepath.Join(subdir, f.Name))
		}

		if err := reconcileShardIndex(subdir, names, sel); err != nil {
			return nil, fmt.Errorf("component %q: %w", name, err)
		}

		cfg, err := extractWeightConfig(sel, spec.WeightPaths)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", name, err)
		}
		spec.WeightConfig = cfg
	}

	l.log.WithFields(map[string]interface{}{
		"component": name,
		"class":     ref.String(),
		"weights":   len(spec.WeightPaths),
	}).Debug("resolved component")

	return factoryFor(ref)(spec)
}

// pickConfigFile returns the absolute path of the component's config file.
// The first recognized config filename present wins, in the order defined
// by files.ConfigFilenames.
func pickConfigFile(dir string, names []string) string {
	present := make(map[string]struct{}, len(names))
	for _, name := range names {
		if files.Classify(name) == files.FileTypeConfig {
			present[name] = struct{}{}
		}
	}
	for _, candidate := range files.ConfigFilenames {
		if _, ok := present[candidate]; ok {
			return filepath.Join(dir, candidate)
		}
	}
	return ""
}

// reconcileShardIndex validates a sharded selection against its index file
// when one is present. Index filenames carry the variant label between
// ".index" and ".json": <base>.safetensors.index.fp16.json.
func reconcileShardIndex(dir string, names []string, sel variant.Selection) error {
	if len(sel.Files) < 2 || !sel.Files[0].IsSharded() {
		return nil
	}

	base := sel.Files[0].Base
	indexName := fmt.Sprintf("%s.%s.index.json", base, sel.Format)
	if sel.Variant != "" {
		indexName = fmt.Sprintf("%s.%s.index.%s.json", base, sel.Format, sel.Variant)
	}

	found := false
	for _, name := range names {
		if name == indexName {
			found = true
			break
		}
	}
	if !found {
		// Index files are advisory; a complete shard set without one is
		// still loadable.
		return nil
	}

	idx, err := safetensors.ParseIndex(filepath.Join(dir, indexName))
	if err != nil {
		return err
	}
	if err := idx.Reconcile(sel.Names()); err != nil {
		return fmt.Errorf("shard index %s: %w", indexName, err)
	}
	return nil
}

// extractWeightConfig pulls format-level metadata from the selected weight
// files. Legacy .bin weights carry no parseable metadata.
func extractWeightConfig(sel variant.Selection, paths []string) (format.Config, error) {
	f, err := format.Get(format.Name(sel.Format))
	if err != nil {
		// Legacy formats without a registered parser.
		return format.Config{}, nil
	}
	return f.ExtractConfig(paths)
}
