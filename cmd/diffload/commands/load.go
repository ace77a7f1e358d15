package commands

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/modelkit/diffusion-loader/pkg/pipeline"
)

func newLoadCmd() *cobra.Command {
	var (
		variantLabel    string
		strictVariant   bool
		safetensorsOnly bool
		drops           []string
		maxConcurrency  int
	)

	cmd := &cobra.Command{
		Use:   "load BUNDLE_DIR",
		Short: "Resolve and assemble a pipeline from a bundle",
		Long: `Resolve every component of a bundle, honoring the requested checkpoint
variant, and print the assembled pipeline.

Examples:
  diffload load ./stable-diffusion-v1-5
  diffload load ./stable-diffusion-v1-5 --variant fp16 --strict-variant
  diffload load ./stable-diffusion-v1-5 --drop safety_checker`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []pipeline.LoadOption{
				pipeline.WithMaxConcurrency(maxConcurrency),
			}
			if variantLabel != "" {
				opts = append(opts, pipeline.WithVariant(variantLabel))
			}
			if strictVariant {
				opts = append(opts, pipeline.WithStrictVariant())
			}
			if safetensorsOnly {
				opts = append(opts, pipeline.WithSafetensorsOnly())
			}
			for _, name := range drops {
				opts = append(opts, pipeline.WithoutComponent(name))
			}
			return runLoad(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&variantLabel, "variant", "", "Checkpoint variant to load (e.g. fp16)")
	cmd.Flags().BoolVar(&strictVariant, "strict-variant", false, "Fail instead of falling back when the variant is missing")
	cmd.Flags().BoolVar(&safetensorsOnly, "safetensors-only", false, "Refuse weights in formats other than safetensors")
	cmd.Flags().StringArrayVar(&drops, "drop", nil, "Component to drop from the pipeline (repeatable)")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 4, "Maximum components resolved concurrently")

	return cmd
}

func runLoad(cmd *cobra.Command, dir string, opts []pipeline.LoadOption) error {
	loader := pipeline.NewLoader(log)

	p, err := loader.FromDirectory(cmd.Context(), dir, opts...)
	if err != nil {
		return err
	}

	cmd.Printf("Pipeline: %s (%d components)\n\n", p.ClassName(), len(p.Names()))

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"COMPONENT", "CLASS", "FORMAT", "VARIANT", "WEIGHTS", "SIZE"}),
	)

	for _, name := range p.Names() {
		c, _ := p.Component(name)

		formatCol, variantCol, weightsCol, sizeCol := "-", "-", "-", "-"
		if gc, ok := c.(*pipeline.GenericComponent); ok && gc.Spec().HasWeights() {
			spec := gc.Spec()
			formatCol = spec.Selection.Format
			if spec.Selection.Variant != "" {
				variantCol = spec.Selection.Variant
			} else if spec.Selection.FellBack {
				variantCol = "<fallback>"
			}
			weightsCol = fmt.Sprintf("%d", len(spec.WeightPaths))
			if size, err := totalFileSize(spec.WeightPaths); err == nil {
				sizeCol = units.HumanSize(float64(size))
			}
		}

		table.Append([]string{name, c.Ref().Class, formatCol, variantCol, weightsCol, sizeCol})
	}

	table.Render()
	return nil
}

func totalFileSize(paths []string) (int64, error) {
	var total int64
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
