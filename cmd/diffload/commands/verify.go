package commands

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/modelkit/diffusion-loader/pkg/bundle"
)

func newVerifyCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "verify BUNDLE_DIR",
		Short: "Verify a bundle against its lock manifest",
		Long: `Verify that a bundle directory's contents match its lock manifest
(bundle.lock.json). With --write, scan the bundle and write a fresh lock
manifest instead.

Examples:
  diffload verify ./stable-diffusion-v1-5 --write
  diffload verify ./stable-diffusion-v1-5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if write {
				return runLock(cmd, args[0])
			}
			return runVerify(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "Write a fresh lock manifest instead of verifying")

	return cmd
}

func runLock(cmd *cobra.Command, dir string) error {
	snapshot, err := bundle.Scan(dir)
	if err != nil {
		return err
	}
	if err := bundle.WriteLock(dir, snapshot); err != nil {
		return err
	}

	cmd.Printf("Locked %d files (%s)\n",
		len(snapshot.Entries), units.HumanSize(float64(snapshot.TotalSize())))
	return nil
}

func runVerify(cmd *cobra.Command, dir string) error {
	diff, err := bundle.Verify(dir)
	if err != nil {
		return err
	}

	for _, path := range diff.Missing {
		cmd.Printf("missing:  %s\n", path)
	}
	for _, path := range diff.Modified {
		cmd.Printf("modified: %s\n", path)
	}
	for _, path := range diff.Extra {
		cmd.Printf("extra:    %s\n", path)
	}

	if !diff.Clean() {
		return fmt.Errorf("bundle does not match its lock manifest (%d missing, %d modified)",
			len(diff.Missing), len(diff.Modified))
	}

	cmd.Println("OK")
	return nil
}
