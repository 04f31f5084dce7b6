package convert

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/MimeLyc/webp-autogen/pkg/file"
	"github.com/MimeLyc/webp-autogen/pkg/log"
)

// ConvertAttachment encodes the uploaded original and every generated size
// next to it. Per-file failures are logged and reported. The metadata is
// returned exactly as received.
func ConvertAttachment(ctx context.Context, attachedFile string, meta Metadata, opts Options) (Metadata, UploadReport) {
	report := UploadReport{
		Converted: make([]string, 0),
		Skipped:   make([]string, 0),
		Failed:    make([]EncodeError, 0),
	}

	opts, err := opts.normalized()
	if err != nil {
		log.Error("Upload conversion for %s not started: %v", attachedFile, err)
		report.Failed = append(report.Failed, EncodeError{Path: attachedFile, Err: err})
		return meta, report
	}

	for _, path := range attachmentFiles(attachedFile, meta) {
		webpPath := file.WebPSibling(path)
		if webpPath == "" || file.Exists(webpPath) {
			report.Skipped = append(report.Skipped, path)
			continue
		}

		if err := opts.Encoder.Encode(ctx, path, webpPath, opts.Quality); err != nil {
			encErr := EncodeError{Path: path, Err: err}
			log.Warn("%v", encErr)
			report.Failed = append(report.Failed, encErr)
			continue
		}
		report.Converted = append(report.Converted, path)
	}

	return meta, report
}

// attachmentFiles lists the original first, then the sizes by name.
func attachmentFiles(attachedFile string, meta Metadata) []string {
	ret := []string{attachedFile}
	dir := filepath.Dir(attachedFile)

	names := make([]string, 0, len(meta.Sizes))
	for name := range meta.Sizes {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		sizeFile := meta.Sizes[name].File
		if sizeFile == "" {
			continue
		}
		path := filepath.Join(dir, filepath.Base(sizeFile))
		if !slices.Contains(ret, path) {
			ret = append(ret, path)
		}
	}
	return ret
}
