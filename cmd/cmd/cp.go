// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dsyntax/diskfsd/internal/blockdev"
	"github.com/dsyntax/diskfsd/internal/engine"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
	"github.com/dsyntax/diskfsd/pkg/pbar"
	"github.com/dsyntax/diskfsd/pkg/reader"
	utilio "github.com/dsyntax/diskfsd/pkg/util/io"
)

// endpoint is one side of a cp argument: either a plain host path, or
// "<device>@<path>" naming a path inside the filesystem found on device.
type endpoint struct {
	device    string
	innerPath string
	hostPath  string
}

func parseEndpoint(s string) endpoint {
	if idx := strings.Index(s, "@"); idx >= 0 {
		return endpoint{device: s[:idx], innerPath: s[idx+1:]}
	}
	return endpoint{hostPath: s}
}

func (e endpoint) isDevice() bool { return e.device != "" }

func DefineCpCommand() *cobra.Command {
	var logLevel string
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file between a host path and a path inside a filesystem on a device or image",
		Long: `Each of src/dst is either a plain host path, or "<device>@<path>" naming a
path inside the filesystem found on device. At least one side must name a
device; this copies directly between two fsops.FilesystemOps instances
without going through a FUSE mount.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := parseEndpoint(args[0])
			dst := parseEndpoint(args[1])
			if !src.isDevice() && !dst.isDevice() {
				return &UsageError{Err: fmt.Errorf("cp: at least one of src/dst must be <device>@<path>")}
			}

			log := newLogger(logLevel)
			ctx := context.Background()

			if src.isDevice() {
				srcOps, closeSrc, err := openDeviceOps(ctx, src.device, fsops.ReadOnly, log)
				if err != nil {
					return err
				}
				defer closeSrc()

				r, err := newOpsReader(ctx, srcOps, src.innerPath)
				if err != nil {
					return err
				}
				buffered := reader.NewBufferedReadSeeker(r, 64*1024)

				if dst.isDevice() {
					dstOps, closeDst, err := openDeviceOps(ctx, dst.device, fsops.ReadWrite, log)
					if err != nil {
						return err
					}
					defer closeDst()
					return copyIntoOps(ctx, dstOps, dst.innerPath, buffered, int64(r.size), showProgress)
				}
				return utilio.CopyFile(dst.hostPath, buffered)
			}

			// src is a host path, dst must be a device (checked above).
			f, err := os.Open(src.hostPath)
			if err != nil {
				return fsops.Wrap(fsops.KindNotFound, "cp", src.hostPath, err)
			}
			defer f.Close()

			var totalBytes int64
			if fi, err := f.Stat(); err == nil {
				totalBytes = fi.Size()
			}

			dstOps, closeDst, err := openDeviceOps(ctx, dst.device, fsops.ReadWrite, log)
			if err != nil {
				return err
			}
			defer closeDst()
			return copyIntoOps(ctx, dstOps, dst.innerPath, f, totalBytes, showProgress)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "log verbosity (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "print a progress bar while copying")
	return cmd
}

// openDeviceOps opens device and auto-detects its filesystem, returning a
// single cleanup func that releases both the engine instance and the
// underlying device handle in the right order.
func openDeviceOps(ctx context.Context, device string, mode fsops.OpenMode, log *logger.Logger) (fsops.FilesystemOps, func(), error) {
	h, err := blockdev.Open(device, blockdev.OpenOptions{Mode: mode, Logger: log})
	if err != nil {
		return nil, nil, fsops.Wrap(fsops.KindNotFound, "cp", device, err)
	}

	ops, err := engine.Open(ctx, h, mode, log)
	if err != nil {
		h.Close()
		return nil, nil, err
	}

	return ops, func() {
		ops.Close(ctx)
		h.Close()
	}, nil
}

// opsReader adapts fsops.FilesystemOps.Read into an io.ReadSeeker over one
// path, so it can feed both pkg/reader.NewBufferedReadSeeker and
// pkg/util/io.CopyFile the way a host *os.File would.
type opsReader struct {
	ctx    context.Context
	ops    fsops.FilesystemOps
	path   string
	offset uint64
	size   uint64
}

func newOpsReader(ctx context.Context, ops fsops.FilesystemOps, path string) (*opsReader, error) {
	attrs, err := ops.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	return &opsReader{ctx: ctx, ops: ops, path: path, size: attrs.Size}, nil
}

func (r *opsReader) Read(p []byte) (int, error) {
	if r.offset >= r.size {
		return 0, io.EOF
	}
	n, err := r.ops.Read(r.ctx, r.path, r.offset, p)
	r.offset += uint64(n)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *opsReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(r.offset) + offset
	case io.SeekEnd:
		abs = int64(r.size) + offset
	default:
		return 0, fmt.Errorf("opsReader: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("opsReader: negative position")
	}
	r.offset = uint64(abs)
	return abs, nil
}

// opsWriter adapts fsops.FilesystemOps.Write into an io.Writer over one
// path, appending sequentially from offset 0. cp always writes a fresh
// copy, never a partial overwrite.
type opsWriter struct {
	ctx    context.Context
	ops    fsops.FilesystemOps
	path   string
	offset uint64
}

func (w *opsWriter) Write(p []byte) (int, error) {
	n, err := w.ops.Write(w.ctx, w.path, w.offset, p)
	w.offset += uint64(n)
	return n, err
}

// progressWriter wraps an io.Writer and renders a pbar progress bar after
// each chunk, so a large cp shows transfer feedback.
type progressWriter struct {
	w   io.Writer
	bar *pbar.ProgressBarState
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.bar.ProcessedBytes += int64(n)
	p.bar.Render(false)
	return n, err
}

// copyIntoOps creates path on ops (best-effort; an already-existing file
// is left for Write to overwrite) and streams src into it, the same
// create-then-io.Copy shape as pkg/util/io.CopyFile, targeting an fsops
// instance instead of a host file. totalBytes enables a progress bar when
// showProgress is set and the size is known ahead of time.
func copyIntoOps(ctx context.Context, ops fsops.FilesystemOps, path string, src io.Reader, totalBytes int64, showProgress bool) error {
	_ = ops.Create(ctx, path, fsops.KindRegular, 0644)

	var w io.Writer = &opsWriter{ctx: ctx, ops: ops, path: path}
	var bar *pbar.ProgressBarState
	if showProgress && totalBytes > 0 {
		bar = pbar.NewProgressBarState(totalBytes)
		w = &progressWriter{w: w, bar: bar}
	}

	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	if bar != nil {
		bar.Render(true)
		bar.Finish()
	}
	return ops.Sync(ctx)
}
