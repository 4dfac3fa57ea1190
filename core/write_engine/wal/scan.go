package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sushant-115/gojotxn/core/xrow"
	"go.uber.org/zap"
)

// Scan replays every row in dir, oldest segment first, calling fn for each.
// A torn frame at the tail of a segment ends that segment; a checksum
// mismatch is reported as an error.
func Scan(dir string, logger *zap.Logger, fn func(*xrow.Header) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	segments, err := listSegments(dir)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		n, err := scanSegment(seg.path, fn)
		if err != nil {
			return fmt.Errorf("failed to scan wal segment %s: %w", seg.path, err)
		}
		logger.Debug("Scanned WAL segment", zap.String("path", seg.path), zap.Int("rows", n))
	}
	return nil
}

func scanSegment(path string, fn func(*xrow.Header) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	prefix := make([]byte, xrow.FrameSize())
	rows := 0
	for {
		if _, err := io.ReadFull(reader, prefix); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return rows, nil
			}
			return rows, err
		}
		size, sum, err := xrow.FrameHeader(prefix)
		if err != nil {
			return rows, err
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return rows, nil
			}
			return rows, err
		}
		row, err := xrow.VerifyPayload(payload, sum)
		if err != nil {
			return rows, err
		}
		if err := fn(row); err != nil {
			return rows, err
		}
		rows++
	}
}
