package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/spf13/cobra"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change runtime settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the saved runtime settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openSettings()
			if err != nil {
				return err
			}
			settings, err := store.GetRuntimeSettings()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(settings, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <quality>",
		Short: "Save the WebP quality (0-100)",
		Long:  "Save the WebP quality (0-100). A running server picks it up on its next start; use PUT /api/settings to change it live.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quality, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("%w: %q", config.ErrQualityOutOfRange, args[0])
			}
			store, err := ctx.openSettings()
			if err != nil {
				return err
			}
			saved, err := store.UpdateRuntimeSettings(config.RuntimeSettings{Quality: quality})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %d\n", config.QualityOptionKey, saved.Quality)
			return nil
		},
	})

	return cmd
}
