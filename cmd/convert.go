package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/MimeLyc/webp-autogen/internal/convert"
	"github.com/MimeLyc/webp-autogen/internal/persistence"
	"github.com/MimeLyc/webp-autogen/internal/poller"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const barWidth = 30

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var remote, token string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert every image without a WebP sibling, one batch at a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var client poller.BatchClient
			if remote != "" {
				client = poller.NewHTTPClient(remote, token)
			} else {
				svc, cleanup, err := ctx.newLocalService()
				if err != nil {
					return err
				}
				defer cleanup()
				client = poller.BatchFunc(func(runCtx context.Context) (convert.BatchResult, error) {
					return svc.RunBatch(runCtx, persistence.TriggerCLI)
				})
			}

			out := cmd.OutOrStdout()
			view := newProgressView(out, isTerminal(out))
			p := poller.New(client,
				poller.WithDelay(cfg.Convert.PollDelay),
				poller.WithLanguage(envLanguage()),
				poller.OnProgress(view.progress),
				poller.OnStatus(view.status),
				poller.OnNotice(view.notice),
			)

			res, err := p.Run(cmd.Context())
			view.finish()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s of %s images have a WebP sibling\n",
				humanize.Comma(int64(res.Converted)), humanize.Comma(int64(res.Total)))
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "Drive a running server at this base URL instead of converting locally")
	cmd.Flags().StringVar(&token, "token", "", "Admin token for --remote")
	return cmd
}

// progressView redraws a bar in place on a terminal and prints plain lines otherwise.
type progressView struct {
	out     io.Writer
	inline  bool
	percent int
	last    convert.BatchResult
	dirty   bool
}

func newProgressView(out io.Writer, inline bool) *progressView {
	return &progressView{out: out, inline: inline}
}

func (v *progressView) progress(percent int) {
	v.percent = percent
	if v.inline {
		v.draw()
		return
	}
	fmt.Fprintf(v.out, "progress: %d%%\n", percent)
}

func (v *progressView) status(res convert.BatchResult) {
	v.last = res
	if v.inline {
		v.draw()
		return
	}
	fmt.Fprintf(v.out, "batch: converted %d, skipped %d, failed %d, remaining %d\n",
		res.ConvertedNow, res.SkippedNow, res.FailedNow, res.Remaining)
}

func (v *progressView) notice(msg string) {
	v.finish()
	fmt.Fprintln(v.out, msg)
}

func (v *progressView) draw() {
	filled := v.percent * barWidth / 100
	fmt.Fprintf(v.out, "\r[%s%s] %3d%%  %s / %s",
		strings.Repeat("#", filled), strings.Repeat(" ", barWidth-filled), v.percent,
		humanize.Comma(int64(v.last.Converted)), humanize.Comma(int64(v.last.Total)))
	v.dirty = true
}

// finish ends an in-place line so the next output starts on a fresh one.
func (v *progressView) finish() {
	if v.dirty {
		fmt.Fprintln(v.out)
		v.dirty = false
	}
}
