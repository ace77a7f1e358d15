package commands

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/modelkit/diffusion-loader/pkg/pipeline"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect BUNDLE_DIR",
		Short: "Show a bundle's manifest",
		Long: `Parse and display a bundle's model_index.json manifest.

Examples:
  diffload inspect ./stable-diffusion-v1-5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0])
		},
	}

	return cmd
}

func runInspect(cmd *cobra.Command, dir string) error {
	index, err := pipeline.LoadManifest(dir)
	if err != nil {
		return err
	}

	cmd.Printf("Pipeline: %s\n", index.ClassName)
	if index.Version != "" {
		cmd.Printf("Version:  %s\n", index.Version)
	}
	cmd.Println()

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"COMPONENT", "LIBRARY", "CLASS"}),
	)

	for _, name := range index.ComponentNames() {
		ref := index.Components[name]
		if ref.IsNull() {
			table.Append([]string{name, "-", "-"})
			continue
		}
		table.Append([]string{name, ref.Library, ref.Class})
	}

	table.Render()

	if len(index.Extras) > 0 {
		cmd.Println()
		for k, v := range index.Extras {
			cmd.Printf("%s: %v\n", k, v)
		}
	}

	return nil
}
