// diffload inspects, verifies and loads multi-component diffusion model
// bundles from local directories.
package main

import (
	"os"

	"github.com/modelkit/diffusion-loader/cmd/diffload/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
