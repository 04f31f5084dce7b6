package convert

import (
	"context"
	"fmt"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/library"
	"github.com/MimeLyc/webp-autogen/pkg/file"
	"github.com/MimeLyc/webp-autogen/pkg/log"
)

func (o Options) normalized() (Options, error) {
	if o.Encoder == nil {
		return o, fmt.Errorf("encoder is required")
	}
	if err := config.ValidateQuality(o.Quality); err != nil {
		return o, err
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o, nil
}

// ConvertBatch walks root and converts up to opts.Limit images that have no
// WebP sibling yet. Images that already have one are counted as skipped and
// never handed to the encoder. A failed encode is logged and counted, and the
// walk goes on; only successful conversions count toward the limit.
func ConvertBatch(ctx context.Context, root string, opts Options) (BatchResult, error) {
	opts, err := opts.normalized()
	if err != nil {
		return BatchResult{}, err
	}

	scanner := library.NewScanner(root)
	var ret BatchResult

	err = scanner.Walk(ctx, func(img library.Image) error {
		if img.Converted {
			ret.SkippedNow++
			return nil
		}

		if err := opts.Encoder.Encode(ctx, img.Path, img.WebPPath, opts.Quality); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("%v", EncodeError{Path: img.Path, Err: err})
			ret.FailedNow++
		} else {
			ret.ConvertedNow++
		}

		if ret.ConvertedNow >= opts.Limit {
			return file.ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return ret, err
	}

	stats, err := scanner.Stats(ctx)
	if err != nil {
		return ret, err
	}
	ret.Total = stats.Total
	ret.Converted = stats.Converted
	ret.Remaining = stats.Remaining

	log.Info("Batch in %s: converted %d, skipped %d, failed %d, remaining %d",
		root, ret.ConvertedNow, ret.SkippedNow, ret.FailedNow, ret.Remaining)
	return ret, nil
}
