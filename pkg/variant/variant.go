// Package variant implements the checkpoint-variant filename protocol used
// by multi-component diffusion model bundles.
//
// Weight filenames follow a small grammar:
//
//	<base>.<ext>                              single file, default checkpoint
//	<base>.<variant>.<ext>                    single file, variant checkpoint
//	<base>-00001-of-00003.<ext>               sharded, default checkpoint
//	<base>.<variant>-00001-of-00003.<ext>     sharded, variant checkpoint
//
// where <variant> is a short label such as "fp16" or "non_ema". Selection
// between variant and default files follows a fixed precedence: requested
// variant first, default files as fallback, error when neither is usable.
package variant

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNoWeights indicates that no usable weight files were found.
	ErrNoWeights = errors.New("no weight files found")
	// ErrVariantNotAvailable indicates the requested variant has no weight
	// files and fallback to the default checkpoint was not permitted.
	ErrVariantNotAvailable = errors.New("requested variant not available")
	// ErrIncompleteShards indicates a sharded weight set is missing shards.
	ErrIncompleteShards = errors.New("incomplete shard set")
)

// weightExtensions are the recognized weight file extensions, in descending
// order of preference.
var weightExtensions = []string{"safetensors", "gguf", "bin"}

// shardSuffixPattern matches the "-00001-of-00003" shard suffix at the end
// of a filename stem. Five-digit zero-padded numbering is the convention
// used by model repositories.
var shardSuffixPattern = regexp.MustCompile(`^(.*)-(\d{5})-of-(\d{5})$`)

// Shard identifies one shard of a sharded weight set.
type Shard struct {
	Index int
	Total int
}

// WeightFile is a parsed weight filename.
type WeightFile struct {
	// Name is the filename as given, without directory.
	Name string
	// Base is the filename stem shared by all files of one weight set,
	// e.g. "diffusion_pytorch_model".
	Base string
	// Variant is the variant label, empty for the default checkpoint.
	Variant string
	// Shard is non-nil for members of a sharded weight set.
	Shard *Shard
	// Ext is the weight extension without the dot: "safetensors", "gguf"
	// or "bin".
	Ext string
}

// IsSharded reports whether the file belongs to a sharded weight set.
func (w WeightFile) IsSharded() bool {
	return w.Shard != nil
}

// ParseWeightFile parses a weight filename into its protocol parts.
// It returns false if the filename is not a recognized weight file.
func ParseWeightFile(name string) (WeightFile, bool) {
	lower := strings.ToLower(name)

	var ext string
	for _, e := range weightExtensions {
		if strings.HasSuffix(lower, "."+e) {
			ext = e
			break
		}
	}
	if ext == "" {
		return WeightFile{}, false
	}

	stem := name[:len(name)-len(ext)-1]

	wf := WeightFile{
		Name: name,
		Ext:  ext,
	}

	// Peel off the shard suffix first; the variant label, if any, sits
	// immediately before it.
	if m := shardSuffixPattern.FindStringSubmatch(stem); m != nil {
		index, err := strconv.Atoi(m[2])
		if err != nil {
			return WeightFile{}, false
		}
		total, err := strconv.Atoi(m[3])
		if err != nil {
			return WeightFile{}, false
		}
		if index < 1 || total < 1 || index > total {
			return WeightFile{}, false
		}
		wf.Shard = &Shard{Index: index, Total: total}
		stem = m[1]
	}

	// A variant label is the segment after the last dot in the remaining
	// stem. Bases themselves do not contain dots in this protocol.
	if i := strings.LastIndex(stem, "."); i >= 0 {
		wf.Base = stem[:i]
		wf.Variant = stem[i+1:]
		if wf.Base == "" || wf.Variant == "" {
			return WeightFile{}, false
		}
	} else {
		wf.Base = stem
	}

	if wf.Base == "" {
		return WeightFile{}, false
	}

	return wf, true
}

// ParseAll parses a list of filenames, silently skipping files that are not
// weight files.
func ParseAll(names []string) []WeightFile {
	var out []WeightFile
	for _, name := range names {
		if wf, ok := ParseWeightFile(name); ok {
			out = append(out, wf)
		}
	}
	return out
}

// Available returns the sorted set of variant labels present among the
// given weight files. The default (unlabeled) checkpoint is not included.
func Available(weights []WeightFile) []string {
	seen := make(map[string]struct{})
	for _, w := range weights {
		if w.Variant != "" {
			seen[w.Variant] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Options control weight selection.
type Options struct {
	// Strict disables fallback from the requested variant to the default
	// checkpoint. When the requested variant is absent, selection fails
	// with ErrVariantNotAvailable instead of falling back.
	Strict bool
	// SafetensorsOnly refuses weight sets in any format other than
	// safetensors.
	SafetensorsOnly bool
}

// Selection is the outcome of weight selection for one component.
type Selection struct {
	// Files are the chosen weight files, shard-ordered.
	Files []WeightFile
	// Variant is the variant label the files carry; empty when the default
	// checkpoint was chosen.
	Variant string
	// FellBack is true when the requested variant was absent and selection
	// fell back to the default checkpoint.
	FellBack bool
	// Format is the weight extension of the chosen files.
	Format string
}

// Names returns the filenames of the selected files.
func (s Selection) Names() []string {
	names := make([]string, len(s.Files))
	for i, f := range s.Files {
		names[i] = f.Name
	}
	return names
}

// Select chooses the weight files for a component given a requested variant.
//
// Precedence:
//  1. files carrying the requested variant label (when one is requested)
//  2. default (unlabeled) files, unless opts.Strict
//  3. error
//
// Formats are considered in preference order (safetensors, gguf, bin); the
// variant precedence applies within the first format that has any usable
// files. An incomplete shard set is always an error, never a fallback.
func Select(weights []WeightFile, requested string, opts Options) (Selection, error) {
	if len(weights) == 0 {
		return Selection{}, ErrNoWeights
	}

	exts := weightExtensions
	if opts.SafetensorsOnly {
		exts = []string{"safetensors"}
	}

	for _, ext := range exts {
		var pool []WeightFile
		for _, w := range weights {
			if w.Ext == ext {
				pool = append(pool, w)
			}
		}
		if len(pool) == 0 {
			continue
		}
		return selectWithin(pool, requested, opts)
	}

	if opts.SafetensorsOnly {
		return Selection{}, fmt.Errorf("%w: only non-safetensors weights present", ErrNoWeights)
	}
	return Selection{}, ErrNoWeights
}

// selectWithin applies variant precedence within a single-format pool.
func selectWithin(pool []WeightFile, requested string, opts Options) (Selection, error) {
	if requested != "" {
		chosen := filterVariant(pool, requested)
		if len(chosen) > 0 {
			files, err := orderShards(chosen)
			if err != nil {
				return Selection{}, err
			}
			return Selection{
				Files:   files,
				Variant: requested,
				Format:  files[0].Ext,
			}, nil
		}
		if opts.Strict {
			return Selection{}, fmt.Errorf("%w: %q (available: %s)",
				ErrVariantNotAvailable, requested, availableOrNone(pool))
		}
	}

	chosen := filterVariant(pool, "")
	if len(chosen) == 0 {
		return Selection{}, fmt.Errorf("%w: weights only available in variants [%s]",
			ErrVariantNotAvailable, availableOrNone(pool))
	}

	files, err := orderShards(chosen)
	if err != nil {
		return Selection{}, err
	}
	return Selection{
		Files:    files,
		FellBack: requested != "",
		Format:   files[0].Ext,
	}, nil
}

func filterVariant(pool []WeightFile, variant string) []WeightFile {
	var out []WeightFile
	for _, w := range pool {
		if w.Variant == variant {
			out = append(out, w)
		}
	}
	return out
}

func availableOrNone(pool []WeightFile) string {
	available := Available(pool)
	if len(pool) > 0 && len(filterVariant(pool, "")) > 0 {
		available = append(available, "<default>")
	}
	if len(available) == 0 {
		return "none"
	}
	return strings.Join(available, ", ")
}

// orderShards validates shard completeness and returns files in shard order.
// Single-file sets pass through unchanged; a mix of sharded and unsharded
// files with the same base is rejected.
func orderShards(files []WeightFile) ([]WeightFile, error) {
	var sharded, single []WeightFile
	for _, f := range files {
		if f.IsSharded() {
			sharded = append(sharded, f)
		} else {
			single = append(single, f)
		}
	}

	if len(sharded) == 0 {
		if len(single) > 1 {
			// Multiple unsharded weight sets (distinct bases); keep a
			// stable order so callers see deterministic results.
			sort.Slice(single, func(i, j int) bool { return single[i].Name < single[j].Name })
		}
		return single, nil
	}
	if len(single) > 0 {
		return nil, fmt.Errorf("%w: mix of sharded and unsharded files for base %q",
			ErrIncompleteShards, sharded[0].Base)
	}

	total := sharded[0].Shard.Total
	seen := make(map[int]string, len(sharded))
	for _, f := range sharded {
		if f.Shard.Total != total {
			return nil, fmt.Errorf("%w: conflicting shard totals %d and %d for base %q",
				ErrIncompleteShards, total, f.Shard.Total, f.Base)
		}
		if prev, dup := seen[f.Shard.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate shard %d (%s and %s)",
				ErrIncompleteShards, f.Shard.Index, prev, f.Name)
		}
		seen[f.Shard.Index] = f.Name
	}
	if len(sharded) != total {
		return nil, fmt.Errorf("%w: found %d of %d shards for base %q",
			ErrIncompleteShards, len(sharded), total, sharded[0].Base)
	}

	sort.Slice(sharded, func(i, j int) bool { return sharded[i].Shard.Index < sharded[j].Shard.Index })
	return sharded, nil
}
