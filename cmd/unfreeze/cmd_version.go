package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yourorg/unfreeze/internal/extract"
	"github.com/yourorg/unfreeze/internal/version"
)

func newResolveCmd() *cobra.Command {
	var vf versionFlags
	cmd := &cobra.Command{
		Use:   "resolve <target>",
		Short: "Resolve and remember the Python version of a frozen binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := extract.OpenTarget(args[0])
			if err != nil {
				return err
			}
			resolver, store, err := openResolver(newAdapter(), vf.prompter())
			if err != nil {
				return err
			}
			defer store.Close()

			v, err := resolver.Resolve(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tPython %s (%s)\n", target.Name, v.Text, v.Provenance)
			return nil
		},
	}
	vf.register(cmd)
	return cmd
}

func newResetCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [target]",
		Short: "Forget remembered Python versions",
		Long: `Forget the remembered Python version of one target, or of every target
with --all. The next run detects (or asks) again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("give exactly one of a target or --all")
			}
			store, err := version.OpenStore(cfg.VersionStoreDir)
			if err != nil {
				return err
			}
			defer store.Close()

			if all {
				if err := store.ResetAll(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Forgot all remembered versions")
				return nil
			}
			target, err := extract.OpenTarget(args[0])
			if err != nil {
				return err
			}
			if err := version.NewResolver(store, nil, nil, logger).Reset(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot remembered version of %s\n", target.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "forget every remembered version")
	return cmd
}
