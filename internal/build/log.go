// Package build carries the daemon's build metadata and its log sink
// plumbing. The daemon feeds one btclog handler whose io.Writer is the
// composition of every configured sink (console, rotated file), so all
// destinations see identical records without per-handler fan-out.
package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is the default number of rotated log files kept
	// on disk.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileMB is the default rotation threshold in
	// megabytes.
	DefaultMaxLogFileMB = 20

	// DefaultLogFilename is the log file name used when the caller does
	// not provide one.
	DefaultLogFilename = "dytord.log"
)

// RotationLimits bounds the on-disk footprint of the daemon log.
type RotationLimits struct {
	// MaxFiles is the number of rotated files kept. Zero keeps a single
	// file that grows without bound.
	MaxFiles int

	// MaxFileMB is the size a file may reach before it is rotated.
	MaxFileMB int
}

// DefaultRotationLimits returns the stock rotation bounds.
func DefaultRotationLimits() RotationLimits {
	return RotationLimits{
		MaxFiles:  DefaultMaxLogFiles,
		MaxFileMB: DefaultMaxLogFileMB,
	}
}

// OpenLogFile creates dir if needed and opens a size-rotated log file in it,
// with rotated-out files gzip compressed. An empty name selects
// DefaultLogFilename.
//
// The returned writer serializes concurrent writes: every context worker in
// the runtime can emit log records, and the underlying rotator expects a
// single writer.
func OpenLogFile(dir, name string, limits RotationLimits) (io.WriteCloser,
	error,
) {
	if name == "" {
		name = DefaultLogFilename
	}
	if limits.MaxFileMB <= 0 {
		limits.MaxFileMB = DefaultMaxLogFileMB
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// The rotator takes its threshold in KB.
	rot, err := rotator.New(
		filepath.Join(dir, name),
		int64(limits.MaxFileMB)*1024,
		false,
		limits.MaxFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("open log rotator: %w", err)
	}
	rot.SetCompressor(gzip.NewWriter(nil), ".gz")

	return &rotatedFile{rot: rot}, nil
}

// rotatedFile guards a rotator with a mutex and makes Close idempotent, so
// the sink can sit behind an io.MultiWriter shared by every logging
// goroutine.
type rotatedFile struct {
	mu     sync.Mutex
	rot    *rotator.Rotator
	closed bool
}

// Write appends one record to the current log file, rotating it first if
// the size threshold was crossed.
func (f *rotatedFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}

	return f.rot.Write(p)
}

// Close flushes and closes the current log file. Writes after Close fail
// with os.ErrClosed.
func (f *rotatedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	return f.rot.Close()
}
