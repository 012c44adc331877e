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
	"errors"
	"os"

	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// UsageError marks a command-line argument mistake as distinct from a
// filesystem operation failure, so ExitCode can tell "you typed it wrong"
// apart from "the device/operation failed".
type UsageError struct{ Err error }

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by a command's RunE to the process
// exit code: 0 success, 1 invalid arguments, 2 device not found, 3
// safety refusal, 4 I/O error, 5 filesystem corruption.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return 1
	}

	kind, ok := fsops.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case fsops.KindNotFound:
		return 2
	case fsops.KindSafetyRefusal:
		return 3
	case fsops.KindCorruption:
		return 5
	default:
		return 4
	}
}

// newLogger builds the logger every command threads through blockdev.Open
// and engine dispatch, at the verbosity the --log-level flag requested.
func newLogger(level string) *logger.Logger {
	return logger.New(os.Stderr, logger.ParseLevel(level))
}
