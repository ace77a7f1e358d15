// Package commands implements the diffload CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/modelkit/diffusion-loader/pkg/logging"
)

var (
	// Global flags
	verbose bool
	logJSON bool

	// Shared state
	log logging.Logger
)

// rootCmd is the root command for diffload.
var rootCmd = &cobra.Command{
	Use:   "diffload",
	Short: "Load and inspect diffusion model bundles",
	Long: `diffload works with multi-component diffusion model bundles: directories
holding a model_index.json manifest and one subfolder per component.

Example:
  diffload inspect ./stable-diffusion-v1-5
  diffload load ./stable-diffusion-v1-5 --variant fp16`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		logger := logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.WarnLevel)
		}
		if logJSON {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}

		if level := os.Getenv("DIFFLOAD_LOG_LEVEL"); level != "" {
			if lvl, err := logrus.ParseLevel(level); err == nil {
				logger.SetLevel(lvl)
			}
		}

		log = logging.NewLogrusAdapterFromEntry(logger.WithField("component", "diffload"))

		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(
		newInspectCmd(),
		newVariantsCmd(),
		newLoadCmd(),
		newVerifyCmd(),
		newVersionCmd(),
	)
}
