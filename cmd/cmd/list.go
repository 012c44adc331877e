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

	"github.com/spf13/cobra"

	"github.com/dsyntax/diskfsd/internal/blockdev"
	"github.com/dsyntax/diskfsd/internal/disk"
	"github.com/dsyntax/diskfsd/internal/engine"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
	"github.com/dsyntax/diskfsd/pkg/util/format"
)

func DefineListCommand() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:          "list [device]",
		Short:        "Enumerate block devices and the filesystem on each partition",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(logLevel)

			var devices []fsops.Device
			if len(args) == 1 {
				devices = []fsops.Device{{ID: args[0], Name: args[0]}}
			} else {
				devs, err := blockdev.Enumerate()
				if err != nil {
					return err
				}
				devices = devs
			}

			for _, dev := range devices {
				describeDevice(cmd.OutOrStdout(), dev, log)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "log verbosity (DEBUG, INFO, WARN, ERROR)")
	return cmd
}

// describeDevice prints dev's size, then either its whole-device
// filesystem family or, if it carries an MBR, each partition's family in
// turn. Errors opening or probing dev are reported inline rather than
// aborting the rest of the listing.
func describeDevice(w io.Writer, dev fsops.Device, log *logger.Logger) {
	h, err := blockdev.Open(dev.ID, blockdev.OpenOptions{Mode: fsops.ReadOnly, Logger: log})
	if err != nil {
		fmt.Fprintf(w, "%s\t(unreadable: %v)\n", dev.ID, err)
		return
	}
	defer h.Close()

	fmt.Fprintf(w, "%s\t%s\tremovable=%v\n", dev.ID, format.FormatBytes(int64(h.Size())), dev.Removable)

	ctx := context.Background()
	sector := make([]byte, disk.DefaultSectorSize)
	if _, err := h.ReadAt(ctx, 0, sector); err != nil {
		fmt.Fprintf(w, "  (could not read sector 0: %v)\n", err)
		return
	}

	mbr, err := disk.ParseMBR(sector)
	if err != nil {
		if fam, ferr := engine.Family(ctx, h, log); ferr == nil {
			fmt.Fprintf(w, "  whole-device filesystem: %s\n", fam)
		} else {
			fmt.Fprintf(w, "  whole-device filesystem: (unrecognized: %v)\n", ferr)
		}
		return
	}

	for _, p := range disk.PartitionsFromMBR(mbr, h.SectorSize()) {
		sub := blockdev.Sub(h, p.Offset, p.Size)
		fam, ferr := engine.Family(ctx, sub, log)
		if ferr != nil {
			fmt.Fprintf(w, "  partition %d: offset=%d size=%s (unrecognized)\n",
				p.Num, p.Offset, format.FormatBytes(int64(p.Size)))
			continue
		}
		fmt.Fprintf(w, "  partition %d: offset=%d size=%s filesystem=%s\n",
			p.Num, p.Offset, format.FormatBytes(int64(p.Size)), fam)
	}
}
