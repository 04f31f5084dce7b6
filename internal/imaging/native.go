package imaging

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/chai2010/webp"
)

// NativeEncoder decodes JPEG/PNG with the standard decoders and encodes with libwebp.
type NativeEncoder struct{}

func NewNativeEncoder() *NativeEncoder {
	return &NativeEncoder{}
}

func (*NativeEncoder) Name() string {
	return BackendNative
}

func (*NativeEncoder) Encode(ctx context.Context, src, dst string, quality int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	img, err := decodeFile(src)
	if err != nil {
		return err
	}

	return writeAtomic(dst, func(w io.Writer) error {
		if err := webp.Encode(w, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return fmt.Errorf("encode webp: %w", err)
		}
		return nil
	})
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if format != "jpeg" && format != "png" {
		return nil, fmt.Errorf("decode %s: unsupported format %q", path, format)
	}
	return img, nil
}
