package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liquidcrypto/liquidos-builder/internal/cli"
)

func main() {
	opts := cli.DefaultOptions()

	rootCmd := &cobra.Command{
		Use:   "buildctl",
		Short: "buildctl - drive the LiquidOS app builder from the terminal",
		Long: `buildctl submits builds to the LiquidOS builder backend, follows their
progress through the pipeline, and reviews generated plans.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ServerURL, "server", opts.ServerURL, "builder backend base URL")
	rootCmd.PersistentFlags().StringVar(&opts.Token, "token", opts.Token, "bearer token for the backend")
	rootCmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", opts.Timeout, "per-request timeout")

	rootCmd.AddCommand(cli.SubmitCmd(opts))
	rootCmd.AddCommand(cli.ListCmd(opts))
	rootCmd.AddCommand(cli.StatusCmd(opts))
	rootCmd.AddCommand(cli.CancelCmd(opts))
	rootCmd.AddCommand(cli.ResumeCmd(opts))
	rootCmd.AddCommand(cli.InstallCmd(opts))
	rootCmd.AddCommand(cli.DeleteCmd(opts))
	rootCmd.AddCommand(cli.EditCmd(opts))
	rootCmd.AddCommand(cli.PlanCmd(opts))
	rootCmd.AddCommand(cli.ContextCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
