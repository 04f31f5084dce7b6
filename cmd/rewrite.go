package main

import (
	"fmt"

	"github.com/MimeLyc/webp-autogen/internal/htaccess"
	"github.com/spf13/cobra"
)

func newInstallRewriteCommand(ctx *commandContext) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "install-rewrite",
		Short: "Add the WebP rewrite block to the site .htaccess",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.Site.HtaccessPath()
			out := cmd.OutOrStdout()

			if remove {
				removed, err := htaccess.Remove(path)
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintf(out, "Removed rewrite rules from %s\n", path)
				} else {
					fmt.Fprintf(out, "No rewrite rules in %s\n", path)
				}
				return nil
			}

			res, err := htaccess.Install(path, cfg.Site.ServerSoftware)
			if err != nil {
				return err
			}
			switch {
			case res.Installed:
				fmt.Fprintf(out, "Installed rewrite rules in %s\n", path)
			case res.AlreadyPresent:
				fmt.Fprintf(out, "Rewrite rules already present in %s\n", path)
			default:
				fmt.Fprintf(out, "Skipped %s: %s\n", path, res.Reason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the rewrite block instead")
	return cmd
}
