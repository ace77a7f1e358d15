package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/modelkit/diffusion-loader/pkg/pipeline"
	"github.com/modelkit/diffusion-loader/pkg/variant"
)

func newVariantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variants BUNDLE_DIR",
		Short: "List checkpoint variants available per component",
		Long: `Scan a bundle's component subfolders and report which checkpoint
variants each component's weights are available in.

Examples:
  diffload variants ./stable-diffusion-v1-5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVariants(cmd, args[0])
		},
	}

	return cmd
}

func runVariants(cmd *cobra.Command, dir string) error {
	index, err := pipeline.LoadManifest(dir)
	if err != nil {
		return err
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"COMPONENT", "DEFAULT", "VARIANTS"}),
	)

	for _, name := range index.ComponentNames() {
		ref := index.Components[name]
		if ref.IsNull() {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read component folder %q: %w", name, err)
		}
		var names []string
		for _, entry := range entries {
			if !entry.IsDir() {
				names = append(names, entry.Name())
			}
		}

		weights := variant.ParseAll(names)
		if len(weights) == 0 {
			table.Append([]string{name, "-", "-"})
			continue
		}

		hasDefault := "no"
		for _, w := range weights {
			if w.Variant == "" {
				hasDefault = "yes"
				break
			}
		}

		available := variant.Available(weights)
		variantsCol := "-"
		if len(available) > 0 {
			variantsCol = strings.Join(available, ", ")
		}

		table.Append([]string{name, hasDefault, variantsCol})
	}

	table.Render()
	return nil
}
