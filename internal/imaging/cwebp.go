package imaging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/webp-autogen/pkg/log"
)

// CwebpEncoder shells out to the cwebp tool from libwebp.
type CwebpEncoder struct {
	cmd string
}

func NewCwebpEncoder(cmd string) *CwebpEncoder {
	if strings.TrimSpace(cmd) == "" {
		cmd = "cwebp"
	}
	return &CwebpEncoder{cmd: cmd}
}

func (*CwebpEncoder) Name() string {
	return BackendCwebp
}

func (c *CwebpEncoder) Encode(ctx context.Context, src, dst string, quality int) error {
	cmdPath, err := exec.LookPath(c.cmd)
	if err != nil {
		return err
	}

	// cwebp writes the output itself, so point it at a temp name and move the
	// finished file into place.
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, c.args(src, tmpPath, quality)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Debug("cwebp stderr for %s: %s", src, strings.TrimSpace(stderr.String()))
		return fmt.Errorf("cwebp %s: %w", filepath.Base(src), err)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (CwebpEncoder) args(src, dst string, quality int) []string {
	return []string{
		"-quiet",
		"-q", strconv.Itoa(quality),
		src,
		"-o", dst,
	}
}
