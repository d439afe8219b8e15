package tail

import (
	"bytes"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"io"
	"os"
)

const DefaultMaxReadBytes = 1 << 20

// Source yields complete lines appended since the previous call.
type Source interface {
	Path() string
	ReadLines() ([]string, error)
}

// FileTailer polls one file from its beginning. A trailing line without a
// newline is held back until the newline arrives. Truncation and rotation
// start reading again from offset zero; a missing file yields nothing.
type FileTailer struct {
	path         string
	maxReadBytes int64
	offset       int64
	partial      []byte
	identity     os.FileInfo
	logger       *zap.Logger
}

func NewFileTailer(path string, maxReadBytes int64, logger *zap.Logger) *FileTailer {
	if maxReadBytes <= 0 {
		maxReadBytes = DefaultMaxReadBytes
	}
	return &FileTailer{
		path:         path,
		maxReadBytes: maxReadBytes,
		logger:       logger,
	}
}

func (ft *FileTailer) Path() string {
	return ft.path
}

// Offset is the number of bytes consumed from the current file.
func (ft *FileTailer) Offset() int64 {
	return ft.offset
}

func (ft *FileTailer) ReadLines() ([]string, error) {
	file, err := os.Open(ft.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if ft.identity != nil {
				ft.logger.Info("Log file disappeared, waiting for it to return", zap.String("path", ft.path))
				ft.reset()
				ft.identity = nil
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", ft.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", ft.path, err)
	}
	switch {
	case ft.identity != nil && !os.SameFile(ft.identity, info):
		ft.logger.Info("Log file rotated, reading from the start", zap.String("path", ft.path))
		ft.reset()
	case info.Size() < ft.offset:
		ft.logger.Info(
			"Log file truncated, reading from the start",
			zap.String("path", ft.path),
			zap.Int64("previous_offset", ft.offset),
			zap.Int64("size", info.Size()),
		)
		ft.reset()
	}
	ft.identity = info

	remaining := info.Size() - ft.offset
	if remaining <= 0 {
		return nil, nil
	}
	buf := make([]byte, min(remaining, ft.maxReadBytes))
	n, err := file.ReadAt(buf, ft.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read %s: %w", ft.path, err)
	}
	ft.offset += int64(n)
	return ft.split(buf[:n]), nil
}

func (ft *FileTailer) split(chunk []byte) []string {
	data := chunk
	if len(ft.partial) > 0 {
		data = append(ft.partial, chunk...)
		ft.partial = nil
	}
	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(data[:idx], []byte{'\r'})))
		data = data[idx+1:]
	}
	if len(data) == 0 {
		return lines
	}
	// a line longer than one read is emitted in pieces to keep memory bounded
	if int64(len(data)) >= ft.maxReadBytes {
		return append(lines, string(data))
	}
	ft.partial = append([]byte(nil), data...)
	return lines
}

func (ft *FileTailer) reset() {
	ft.offset = 0
	ft.partial = nil
}
