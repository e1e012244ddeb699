package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	actor string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "registry-import",
		Short:         "Offline field package import tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.actor, "actor", os.Getenv("REGISTRY_IMPORT_ACTOR"), "Acting user UUID")

	cmd.AddCommand(newSealCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newUploadCmd(opts))
	cmd.AddCommand(newStageCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newDetectCmd(opts))
	cmd.AddCommand(newApproveCmd(opts))
	cmd.AddCommand(newCommitCmd(opts))
	cmd.AddCommand(newCancelCmd(opts))
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReportCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
