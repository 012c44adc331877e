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

// Package engine composes every filesystem engine's fsops.Prober into the
// single "what is this device" dispatch the CLI and worker need: probe
// each registered engine in turn and open the first one that recognizes
// it. Each engine's own probe.go is the tagged-variant entry point (C7);
// this package just tries them in sequence rather than duplicating any
// detection logic.
package engine

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/ext4"
	"github.com/dsyntax/diskfsd/internal/fatfs"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
	"github.com/dsyntax/diskfsd/internal/ntfs"
)

// Probers returns every known fsops.Prober, in probe order. exFAT is
// tried after FAT12/16/32 only by convention; the two are mutually
// exclusive by OEM name (fatfs.prober.Probe defers to exFAT itself), so
// order between them doesn't matter.
func Probers(log *logger.Logger) []fsops.Prober {
	return []fsops.Prober{
		ext4.NewProber(log),
		ntfs.NewProber(log),
		fatfs.NewProber(log),
		fatfs.NewExfatProber(log),
	}
}

// Open probes dev against every known engine and opens it with the first
// one that recognizes it. Returns ErrNotAFilesystem if none do.
func Open(ctx context.Context, dev fsops.BlockDevice, mode fsops.OpenMode, log *logger.Logger) (fsops.FilesystemOps, error) {
	for _, p := range Probers(log) {
		ok, err := p.Probe(ctx, dev)
		if err != nil || !ok {
			continue
		}
		return p.Init(ctx, dev, mode)
	}
	return nil, fsops.New(fsops.KindNotAFilesystem, "engine.Open", "no engine recognized this device")
}

// Family probes dev and reports which family it is (the `list` command's
// use case): it opens the recognized engine read-only, reads its Info,
// and closes it again before returning.
func Family(ctx context.Context, dev fsops.BlockDevice, log *logger.Logger) (fsops.Family, error) {
	ops, err := Open(ctx, dev, fsops.ReadOnly, log)
	if err != nil {
		return fsops.FamilyUnknown, err
	}
	defer ops.Close(ctx)
	info, err := ops.Info(ctx)
	if err != nil {
		return fsops.FamilyUnknown, err
	}
	return info.Family, nil
}
