package convert

import (
	"fmt"

	"github.com/MimeLyc/webp-autogen/internal/imaging"
)

// DefaultLimit caps how many images one batch call converts.
const DefaultLimit = 200

type Options struct {
	Quality int
	Limit   int
	Encoder imaging.Encoder
}

// BatchResult is the progress record returned by one batch call.
// Total, Converted and Remaining are recomputed after the walk.
type BatchResult struct {
	ConvertedNow int `json:"converted_now"`
	SkippedNow   int `json:"skipped_now"`
	FailedNow    int `json:"failed_now"`
	Total        int `json:"total"`
	Converted    int `json:"converted"`
	Remaining    int `json:"remaining"`
}

// Metadata is the upload record handed to the attachment hook.
// File is relative to the upload root; size files live next to the original.
type Metadata struct {
	File   string          `json:"file"`
	Width  int             `json:"width,omitempty"`
	Height int             `json:"height,omitempty"`
	Sizes  map[string]Size `json:"sizes,omitempty"`
}

type Size struct {
	File     string `json:"file"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MimeType string `json:"mime-type,omitempty"`
}

// UploadReport lists what the attachment hook did with each candidate file.
type UploadReport struct {
	Converted []string      `json:"converted"`
	Skipped   []string      `json:"skipped"`
	Failed    []EncodeError `json:"failed"`
}

// EncodeError records a single file the encoder could not convert.
type EncodeError struct {
	Path string
	Err  error
}

func (e EncodeError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Path, e.Err)
}

func (e EncodeError) Unwrap() error {
	return e.Err
}

// MarshalText renders the error as a plain string in JSON reports.
func (e EncodeError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}
