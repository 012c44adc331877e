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

	"github.com/spf13/cobra"

	"github.com/dsyntax/diskfsd/internal/blockdev"
	"github.com/dsyntax/diskfsd/internal/engine"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/mountfs"
)

func DefineMountCommand() *cobra.Command {
	var (
		readOnly bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "mount <source> <target>",
		Short: "Auto-detect the filesystem on source and mount it at target",
		Long: `The 'mount' command probes source (a block device or image file) against
every known filesystem engine, opens whichever one recognizes it, and
serves it as a live directory tree at target via FUSE. It blocks until
the mount is torn down (Ctrl-C, or a separate 'unmount target').`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, target := args[0], args[1]
			log := newLogger(logLevel)

			mode := fsops.ReadWrite
			if readOnly {
				mode = fsops.ReadOnly
			}

			dev, err := blockdev.Open(source, blockdev.OpenOptions{Mode: mode, Logger: log})
			if err != nil {
				return fsops.Wrap(fsops.KindNotFound, "mount", source, err)
			}
			defer dev.Close()

			ops, err := engine.Open(context.Background(), dev, mode, log)
			if err != nil {
				return err
			}
			defer ops.Close(context.Background())

			return mountfs.Mount(target, ops, readOnly)
		},
	}

	cmd.Flags().BoolVar(&readOnly, "readonly", false, "mount the filesystem read-only")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "log verbosity (DEBUG, INFO, WARN, ERROR)")
	return cmd
}
