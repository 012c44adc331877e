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
	"strings"

	"github.com/spf13/cobra"

	"github.com/dsyntax/diskfsd/internal/blockdev"
	"github.com/dsyntax/diskfsd/internal/formatter"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

func DefineFormatCommand() *cobra.Command {
	var (
		dryRun   bool
		label    string
		fsType   string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:          "format <device>",
		Short:        "Write a fresh filesystem to a device or image file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := parseFamily(fsType)
			if err != nil {
				return &UsageError{Err: err}
			}

			log := newLogger(logLevel)
			h, err := blockdev.Open(args[0], blockdev.OpenOptions{
				Mode:   fsops.ReadWrite,
				Logger: log,
			})
			if err != nil {
				return fsops.Wrap(fsops.KindNotFound, "format", args[0], err)
			}
			defer h.Close()

			opts := formatter.Options{
				Device: fsops.Device{
					ID:           args[0],
					Name:         args[0],
					SizeBytes:    h.Size(),
					SectorSize:   h.SectorSize(),
					MountedPaths: blockdev.MountedPaths(args[0]),
				},
				Family: family,
				Label:  label,
				DryRun: dryRun,
			}

			report, err := formatter.Execute(context.Background(), h, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be written without touching the device")
	cmd.Flags().StringVar(&label, "label", "", "volume label to write")
	cmd.Flags().StringVar(&fsType, "fs-type", "", "filesystem family to write (ext2, ext3, ext4, ntfs, fat16, fat32)")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "log verbosity (DEBUG, INFO, WARN, ERROR)")
	cmd.MarkFlagRequired("fs-type")
	return cmd
}

// parseFamily maps the --fs-type flag's string onto the closed fsops.Family
// universe; exFAT is deliberately absent, since internal/fatfs implements
// it read-only and has no Format to dispatch to.
func parseFamily(s string) (fsops.Family, error) {
	switch strings.ToLower(s) {
	case "ext2":
		return fsops.FamilyExt2, nil
	case "ext3":
		return fsops.FamilyExt3, nil
	case "ext4":
		return fsops.FamilyExt4, nil
	case "ntfs":
		return fsops.FamilyNTFS, nil
	case "fat12":
		return fsops.FamilyFAT12, nil
	case "fat16":
		return fsops.FamilyFAT16, nil
	case "fat32":
		return fsops.FamilyFAT32, nil
	default:
		return fsops.FamilyUnknown, fmt.Errorf("unknown --fs-type %q", s)
	}
}
