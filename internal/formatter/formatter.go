// Package formatter implements the format pipeline (C8): a safety gate
// that refuses system drives and protected mount points, a deterministic
// dry-run report, and the execute path that dispatches to the engine
// matching the caller's requested family.
package formatter

import (
	"context"
	"fmt"
	"time"

	"github.com/dsyntax/diskfsd/internal/ext4"
	"github.com/dsyntax/diskfsd/internal/fatfs"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/ntfs"
	"github.com/dsyntax/diskfsd/pkg/util/format"
)

// protectedMountPoints is the safety gate's reject list.
var protectedMountPoints = map[string]bool{
	"/":                  true,
	"/boot":              true,
	"/usr":               true,
	"/var":               true,
	"/etc":               true,
	"/home":              true,
	"/System":            true,
	"/Library":           true,
	"/Applications":      true,
	`C:\`:                true,
	`C:\Windows`:         true,
	`C:\Program Files`:   true,
	`C:\Users`:           true,
}

// Options carries the caller-selected format parameters.
type Options struct {
	Device fsops.Device
	Family fsops.Family
	Label  string
	DryRun bool
	Cancel fsops.CancelToken
}

// Report is the outcome of a format operation: what was (or would be)
// written, for both the dry-run preview and the post-execute summary.
type Report struct {
	Family       fsops.Family
	Label        string
	DeviceID     string
	TotalBytes   uint64
	BytesWritten uint64
	DryRun       bool
	Duration     time.Duration
	Warnings     []string
}

// String renders a one-line human-readable summary, for the CLI's
// `format --dry-run` preview and post-execution confirmation.
func (r *Report) String() string {
	verb := "formatted"
	if r.DryRun {
		verb = "would format"
	}
	return fmt.Sprintf("%s %s as %s (%s), label %q, in %s",
		r.DeviceID, verb, r.Family, format.FormatBytes(int64(r.TotalBytes)), r.Label, r.Duration)
}

// checkSafety implements the safety gate: refuses to touch a device
// flagged as the system drive, or mounted at a protected mount point.
func checkSafety(dev fsops.Device) error {
	if dev.SystemDrive {
		return fsops.New(fsops.KindSafetyRefusal, "formatter.Execute", "device "+dev.ID+" is the system drive")
	}
	for _, mp := range dev.MountedPaths {
		if protectedMountPoints[mp] {
			return fsops.New(fsops.KindSafetyRefusal, "formatter.Execute", "device "+dev.ID+" is mounted at protected path "+mp)
		}
	}
	return nil
}

// buildReport produces the deterministic report describing what a
// format of opts would do, without touching dev. Used both as the
// dry-run result and as the basis for the post-execute report (which
// then fills in the measured duration).
func buildReport(opts Options, totalBytes uint64) *Report {
	return &Report{
		Family:     opts.Family,
		Label:      opts.Label,
		DeviceID:   opts.Device.ID,
		TotalBytes: totalBytes,
		DryRun:     opts.DryRun,
	}
}

// Execute runs the safety gate, then either returns the dry-run report
// (opts.DryRun, no I/O performed) or dispatches to the engine matching
// opts.Family, zeroing nothing extra beyond what that engine's own
// Format already lays down: the zero -> write bottom-up -> flush ->
// close ordering is each engine's own Format's responsibility; see
// DESIGN.md's C8 entry for why cancellation is polled only at this
// single pre-dispatch point rather than between each engine's internal
// metadata-region writes.
func Execute(ctx context.Context, dev fsops.BlockDevice, opts Options) (*Report, error) {
	if err := checkSafety(opts.Device); err != nil {
		return nil, err
	}

	totalBytes := opts.Device.SizeBytes
	if totalBytes == 0 && dev != nil {
		totalBytes = dev.Size()
	}
	report := buildReport(opts, totalBytes)

	if opts.DryRun {
		return report, nil
	}

	cancel := opts.Cancel
	if cancel == nil {
		cancel = fsops.NoCancel
	}
	if cancel.Cancelled() {
		return nil, fsops.New(fsops.KindCancelled, "formatter.Execute", "cancelled before any metadata was written")
	}

	start := time.Now()
	if err := dispatch(ctx, dev, opts); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)
	report.BytesWritten = totalBytes
	return report, nil
}

// dispatch routes to the engine matching opts.Family. exFAT is
// deliberately absent: internal/fatfs implements it read-only (DESIGN.md
// Open Question decision 5), so there is no exFAT Format to dispatch to.
func dispatch(ctx context.Context, dev fsops.BlockDevice, opts Options) error {
	switch opts.Family {
	case fsops.FamilyExt2, fsops.FamilyExt3, fsops.FamilyExt4:
		return ext4.Format(ctx, dev, ext4.FormatOptions{Label: opts.Label})
	case fsops.FamilyNTFS:
		return ntfs.Format(ctx, dev, ntfs.FormatOptions{Label: opts.Label})
	case fsops.FamilyFAT12, fsops.FamilyFAT16, fsops.FamilyFAT32:
		return fatfs.Format(ctx, dev, fatfs.FormatOptions{Label: opts.Label, Family: opts.Family})
	default:
		return fsops.New(fsops.KindUnsupported, "formatter.dispatch", "no formatter for family "+opts.Family.String())
	}
}
