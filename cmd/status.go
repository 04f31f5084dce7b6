package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/htaccess"
	"github.com/MimeLyc/webp-autogen/internal/library"
	"github.com/MimeLyc/webp-autogen/internal/persistence"
	"github.com/MimeLyc/webp-autogen/internal/poller"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var remote, token string
	var runs int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many images already have a WebP sibling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if remote != "" {
				stats, err := poller.NewHTTPClient(remote, token).Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderTable([]string{"Server", "Value"}, statsRows(remote, stats), []columnAlignment{alignLeft, alignRight}))
				return nil
			}

			svc, cleanup, err := ctx.newLocalService()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			rows := statsRows(cfg.Uploads.Dir, stats)
			rows = append(rows,
				[]string{"Quality", strconv.Itoa(svc.Quality())},
				[]string{"Encoder", cfg.Convert.Encoder},
				[]string{"Next sweep", nextSweepText(svc.NextSweep(time.Now()))},
				[]string{"Rewrite rules", rewriteText(cfg.Site)},
			)
			fmt.Fprintln(out, renderTable([]string{"Upload root", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

			if runs <= 0 {
				return nil
			}
			recent, err := svc.Runs(cmd.Context(), runs)
			if err != nil {
				return err
			}
			if len(recent) > 0 {
				fmt.Fprintln(out, renderRuns(recent))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "Query a running server at this base URL instead of scanning locally")
	cmd.Flags().StringVar(&token, "token", "", "Admin token for --remote")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of recent batch runs to list")
	return cmd
}

func statsRows(label string, stats library.Stats) [][]string {
	percent := "-"
	if stats.Total > 0 {
		percent = fmt.Sprintf("%.0f%%", float64(stats.Converted)/float64(stats.Total)*100)
	}
	return [][]string{
		{"Location", label},
		{"Images", humanize.Comma(int64(stats.Total))},
		{"Converted", humanize.Comma(int64(stats.Converted))},
		{"Remaining", humanize.Comma(int64(stats.Remaining))},
		{"Progress", percent},
	}
}

func nextSweepText(next time.Time, ok bool) string {
	if !ok {
		return "disabled"
	}
	return fmt.Sprintf("%s (%s)", next.Format("2006-01-02 15:04"), humanize.Time(next))
}

func rewriteText(site config.SiteConfig) string {
	switch {
	case !htaccess.IsApache(site.ServerSoftware):
		return "not Apache"
	case htaccess.Installed(site.HtaccessPath()):
		return "installed"
	default:
		return "missing"
	}
}

func renderRuns(runs []persistence.BatchRun) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		status := "ok"
		if run.Error != "" {
			status = run.Error
		}
		rows = append(rows, []string{
			humanize.Time(run.StartedAt),
			string(run.Trigger),
			strconv.Itoa(run.Result.ConvertedNow),
			strconv.Itoa(run.Result.SkippedNow),
			strconv.Itoa(run.Result.FailedNow),
			run.Duration().Round(time.Millisecond).String(),
			status,
		})
	}
	return renderTable(
		[]string{"Started", "Trigger", "Converted", "Skipped", "Failed", "Took", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}
