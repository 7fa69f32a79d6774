package main

import (
	"fmt"

	"github.com/Codetector1374/mini-kern/internal/redirects"
	"github.com/spf13/cobra"
)

type options struct {
	root string
	dir  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "redirects",
		Short:         "Manage the kernel's runtime redirect table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.root, "root", ".", "Module root containing go.mod")
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", "kernel", "Source directory to scan, relative to the module root")

	cmd.AddCommand(newCountCmd(opts), newPopulateCmd(opts))
	return cmd
}

func (o *options) find() ([]*redirects.Redirect, error) {
	modulePath, err := redirects.ModulePath(o.root)
	if err != nil {
		return nil, fmt.Errorf("must be run from the module root: %w", err)
	}
	return redirects.Find(o.root, o.dir, modulePath)
}

func newCountCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of redirect table entries",
		Long: `The count command prints the number of go:redirect-from directives
found in the kernel sources. The linker script uses it to size the
` + redirects.TableSection + ` section.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			found, err := opts.find()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d", len(found))
			return err
		},
	}
}

func newPopulateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "populate-table KERNEL_IMAGE",
		Short: "Write the resolved redirect table into a kernel image",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			found, err := opts.find()
			if err != nil {
				return err
			}
			return redirects.PopulateImage(args[0], found)
		},
	}
}
